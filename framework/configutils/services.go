package configutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/cafex/cafex/framework/restclient"
)

// ServiceDescription is a resolved service entry of a service description file
type ServiceDescription struct {
	Method      string            `validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Endpoint    string            `validate:"required"`
	QueryParams map[string]string
	Headers     map[string]string
	Payload     string
	// TargetURL is the team config target URL when overwrite_base_url is
	// set, otherwise the environment base_url
	TargetURL string `validate:"required"`
}

// Request converts the description for restclient.Client.Execute, with the
// endpoint resolved against TargetURL
func (d ServiceDescription) Request() restclient.Description {
	endpoint := d.Endpoint
	if !strings.Contains(endpoint, "://") && d.TargetURL != "" {
		endpoint = strings.TrimRight(d.TargetURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}
	return restclient.Description{
		Method:      d.Method,
		Endpoint:    endpoint,
		QueryParams: d.QueryParams,
		Headers:     d.Headers,
		Payload:     d.Payload,
	}
}

// GetServiceDescription resolves the service at keypath of the description
// file relPath (relative to the service description directory)
func (c *ConfigUtils) GetServiceDescription(relPath, keypath string) (ServiceDescription, error) {
	dir, err := c.FetchServiceDescriptionPath()
	if err != nil {
		return ServiceDescription{}, err
	}
	v, err := c.ValueFromYAMLKeyPath(filepath.Join(dir, relPath), keypath, DefaultDelimiter)
	if err != nil {
		return ServiceDescription{}, err
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return ServiceDescription{}, fmt.Errorf("%w: %s in %s is not a service description", ErrKeyNotFound, keypath, relPath)
	}
	d, err := c.resolveService(raw)
	if err != nil {
		c.logger.Error("failed to resolve service description", "file", relPath, "keypath", keypath, "error", err)
		return ServiceDescription{}, fmt.Errorf("service %s in %s: %w", keypath, relPath, err)
	}
	return d, nil
}

func (c *ConfigUtils) resolveService(raw map[string]any) (ServiceDescription, error) {
	d := ServiceDescription{
		Method:   strings.ToUpper(cast.ToString(raw["method"])),
		Endpoint: cast.ToString(raw["endpoint"]),
		Headers:  cast.ToStringMapString(raw["headers"]),
	}

	switch q := raw["queryparams"].(type) {
	case nil:
	case string:
		if q != "" {
			params, err := restclient.QueryParameters("?" + strings.TrimPrefix(q, "?"))
			if err != nil {
				return d, err
			}
			d.QueryParams = params
		}
	default:
		d.QueryParams = cast.ToStringMapString(q)
	}

	payload, err := c.payload(raw["payload"])
	if err != nil {
		return d, err
	}
	d.Payload = payload

	d.TargetURL, err = c.targetURL(cast.ToString(raw["target_url"]))
	if err != nil {
		return d, err
	}

	if err := validator.New().Struct(d); err != nil {
		return d, err
	}
	return d, nil
}

func (c *ConfigUtils) targetURL(key string) (string, error) {
	if key != "" && key != "None" && c.team != nil {
		overwrite, err := c.FetchOverwriteBaseURL()
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			return "", err
		}
		if overwrite {
			return c.FetchTargetURL(key)
		}
	}
	return c.FetchBaseURL()
}

// payload loads a payload file from the payload directory when v names a
// .json file, and otherwise uses v inline. Structured payloads are JSON encoded.
func (c *ConfigUtils) payload(v any) (string, error) {
	switch p := v.(type) {
	case nil:
		return "", nil
	case string:
		if p == "" || p == "None" {
			return "", nil
		}
		if !strings.EqualFold(filepath.Ext(p), ".json") {
			return p, nil
		}
		dir, err := c.FetchServicePayloadPath()
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(filepath.Join(dir, p))
		if err != nil {
			return "", fmt.Errorf("failed to read payload %s: %w", p, err)
		}
		return string(data), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("failed to encode payload: %w", err)
		}
		return string(data), nil
	}
}

// LoadServiceDescriptions resolves every service found in the YAML files of
// dir. Keys are "<file name without extension>/<key path>"; any mapping with
// method and endpoint counts as a service.
func (c *ConfigUtils) LoadServiceDescriptions(dir string) (map[string]ServiceDescription, error) {
	names, err := ServiceFileNames(dir)
	if err != nil {
		return nil, err
	}
	out := map[string]ServiceDescription{}
	for _, file := range names {
		doc, err := readYAMLFile(filepath.Join(dir, file))
		if err != nil {
			return nil, err
		}
		stem := strings.TrimSuffix(file, filepath.Ext(file))
		for keypath, raw := range findServices(doc, "") {
			d, err := c.resolveService(raw)
			if err != nil {
				return nil, fmt.Errorf("service %s in %s: %w", keypath, file, err)
			}
			out[stem+"/"+keypath] = d
		}
	}
	return out, nil
}

func findServices(m map[string]any, prefix string) map[string]map[string]any {
	out := map[string]map[string]any{}
	for k, v := range m {
		child, ok := v.(map[string]any)
		if !ok {
			continue
		}
		path := k
		if prefix != "" {
			path = prefix + DefaultDelimiter + k
		}
		_, hasMethod := child["method"]
		_, hasEndpoint := child["endpoint"]
		if hasMethod && hasEndpoint {
			out[path] = child
			continue
		}
		for p, svc := range findServices(child, path) {
			out[p] = svc
		}
	}
	return out
}

// ServiceFileNames lists the YAML files of dir, sorted
func ServiceFileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read service description directory %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
