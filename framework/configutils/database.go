package configutils

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cast"

	"github.com/cafex/cafex/framework/database"
)

// DBDescription is a database entry of the team config
type DBDescription struct {
	Type     database.Type
	Server   string
	Name     string
	Port     int
	User     string
	Username string
	Password string

	// Oracle
	SID         string
	ServiceName string

	// Snowflake
	Account   string
	Warehouse string
	Schema    string
	Role      string

	// Hive, Spark and Snowflake key-pair authentication
	SecretKey string
	KeyFile   string
}

// ConnectOptions converts the description for database.Operations.Connect
func (d DBDescription) ConnectOptions() database.ConnectOptions {
	return database.ConnectOptions{
		Database:    d.Name,
		Username:    d.Username,
		Password:    d.Password,
		Port:        d.Port,
		SecretKey:   d.SecretKey,
		SID:         d.SID,
		ServiceName: d.ServiceName,
		PEMFile:     d.KeyFile,
		Account:     d.Account,
		Warehouse:   d.Warehouse,
		Schema:      d.Schema,
		Role:        d.Role,
	}
}

// DBConfiguration reads the database entry at keypath of the team config.
// With inEnv the keypath is relative to the current environment section.
// Credentials come from default_db_user unless overwrite_default_db_user is
// set and user names another team config account.
func (c *ConfigUtils) DBConfiguration(keypath string, inEnv bool) (DBDescription, error) {
	if c.team == nil {
		return DBDescription{}, ErrNoTeamConfig
	}
	if inEnv {
		keypath = "env/" + c.FetchExecutionEnvironment() + "/" + c.FetchEnvironmentType() + "/" + keypath
	}
	v, err := ValueFromConfigObject(c.team, keypath, DefaultDelimiter)
	if err != nil {
		return DBDescription{}, err
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return DBDescription{}, fmt.Errorf("%w: %s is not a database entry", ErrKeyNotFound, keypath)
	}

	dbType, err := database.ParseType(cast.ToString(raw["db_type"]))
	if err != nil {
		return DBDescription{}, err
	}
	d := DBDescription{
		Type:   dbType,
		Server: cast.ToString(raw["db_server"]),
		Name:   cast.ToString(raw["db_name"]),
		Port:   cast.ToInt(raw["port"]),
		User:   cast.ToString(raw["user"]),
	}
	if d.User == "" {
		d.User = DefaultDBUser
	}
	switch dbType {
	case database.Oracle:
		d.SID = cast.ToString(raw["sid"])
		d.ServiceName = cast.ToString(raw["service_name"])
	case database.Hive, database.Spark:
		d.SecretKey = cast.ToString(raw["secret_key"])
		d.KeyFile = c.keyFile(raw)
	case database.Snowflake:
		d.Account = cast.ToString(raw["account"])
		d.Warehouse = cast.ToString(raw["warehouse"])
		d.Schema = cast.ToString(raw["schema"])
		d.Role = cast.ToString(raw["role"])
		d.KeyFile = c.keyFile(raw)
	}

	account := DefaultDBUser
	if cast.ToBool(raw["overwrite_default_db_user"]) {
		account = d.User
	}
	d.Username, d.Password, err = c.FetchDBCredentials(account)
	if err != nil {
		return DBDescription{}, err
	}
	return d, nil
}

func (c *ConfigUtils) keyFile(raw map[string]any) string {
	kf := cast.ToString(raw["key_file"])
	if kf == "" || kf == "None" {
		return ""
	}
	return filepath.Join(c.ConfigurationPath(), kf)
}
