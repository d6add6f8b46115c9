package configutils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultDelimiter separates key path segments
const DefaultDelimiter = "/"

func splitPath(keypath, delimiter string) []string {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return strings.Split(keypath, delimiter)
}

// ValueFromYAMLKeyPath reads the YAML file at path and returns the value at
// keypath. Numeric segments index into sequences.
func (c *ConfigUtils) ValueFromYAMLKeyPath(path, keypath, delimiter string) (any, error) {
	v, err := ValueFromYAMLKeyPath(path, keypath, delimiter)
	if err != nil {
		c.logger.Warn("key path lookup failed", "file", path, "keypath", keypath, "error", err)
	}
	return v, err
}

// ValueFromYAMLKeyPath is the ConfigUtils method without a project
func ValueFromYAMLKeyPath(path, keypath, delimiter string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc yamlv3.Node
	if err := yamlv3.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	node := &doc
	if node.Kind == yamlv3.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	for _, seg := range splitPath(keypath, delimiter) {
		node = childNode(node, seg)
		if node == nil {
			return nil, fmt.Errorf("%w: %s in %s", ErrKeyNotFound, keypath, path)
		}
	}
	var out any
	if err := node.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s in %s: %w", keypath, path, err)
	}
	return out, nil
}

func childNode(n *yamlv3.Node, key string) *yamlv3.Node {
	if n.Kind == yamlv3.AliasNode {
		n = n.Alias
	}
	switch n.Kind {
	case yamlv3.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				return n.Content[i+1]
			}
		}
	case yamlv3.SequenceNode:
		idx, err := strconv.Atoi(key)
		if err == nil && idx >= 0 && idx < len(n.Content) {
			return n.Content[idx]
		}
	}
	return nil
}

// ValueFromConfigObject walks an already decoded config by keypath
func ValueFromConfigObject(obj any, keypath, delimiter string) (any, error) {
	cur := obj
	for _, seg := range splitPath(keypath, delimiter) {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keypath)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keypath)
			}
			cur = v[idx]
		default:
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keypath)
		}
	}
	return cur, nil
}

// ValueFromConfigObject is the method form of the package function
func (c *ConfigUtils) ValueFromConfigObject(obj any, keypath, delimiter string) (any, error) {
	return ValueFromConfigObject(obj, keypath, delimiter)
}

// lookupOptions select where a key is looked up
type lookupOptions struct {
	global  bool
	execEnv string
	envType string
}

// LookupOption configures ValueOfKeyBaseConfig and ValueOfKeyTeamConfig
type LookupOption func(*lookupOptions)

// Global looks the key up at the top level instead of under env
func Global() LookupOption {
	return func(o *lookupOptions) { o.global = true }
}

// InEnvironment overrides execution_environment and environment_type
func InEnvironment(execEnv, envType string) LookupOption {
	return func(o *lookupOptions) {
		o.execEnv, o.envType = execEnv, envType
	}
}

func (c *ConfigUtils) scope(cfg map[string]any, opts []LookupOption) (map[string]any, error) {
	o := lookupOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.global {
		return cfg, nil
	}
	if o.execEnv == "" {
		o.execEnv = c.FetchExecutionEnvironment()
	}
	if o.envType == "" {
		o.envType = c.FetchEnvironmentType()
	}
	v, err := ValueFromConfigObject(cfg, "env/"+o.execEnv+"/"+o.envType, DefaultDelimiter)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: env/%s/%s is not a mapping", ErrKeyNotFound, o.execEnv, o.envType)
	}
	return m, nil
}

// ValueOfKeyBaseConfig returns a key of the current environment section of
// config.yml, or of its top level with Global()
func (c *ConfigUtils) ValueOfKeyBaseConfig(key string, opts ...LookupOption) (any, error) {
	return c.valueOfKey(c.baseRaw, "base", key, opts)
}

// ValueOfKeyTeamConfig is ValueOfKeyBaseConfig for the current team config
func (c *ConfigUtils) ValueOfKeyTeamConfig(key string, opts ...LookupOption) (any, error) {
	if c.team == nil {
		return nil, ErrNoTeamConfig
	}
	return c.valueOfKey(c.team, "team", key, opts)
}

func (c *ConfigUtils) valueOfKey(cfg map[string]any, which, key string, opts []LookupOption) (any, error) {
	values, err := c.scope(cfg, opts)
	if err != nil {
		return nil, err
	}
	v, ok := values[key]
	if !ok {
		c.logger.Warn("key not present", "config", which, "key", key)
		return nil, fmt.Errorf("%w: %s in %s config", ErrKeyNotFound, key, which)
	}
	return v, nil
}
