package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys maps command flags onto the config keys they override.
var flagKeys = map[string]string{
	"server": "server.url",
	"mode":   "channel.mode",
	"token":  "auth.token",
	"listen": "relay.listen",
	"path":   "notebook.path",
	"base":   "notebook.base_url",
}

// applyConfigFlagOverrides copies explicitly set flags over loaded config.
func applyConfigFlagOverrides(cmd *cobra.Command, v *viper.Viper) {
	for flagName, key := range flagKeys {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil || !flag.Changed {
			continue
		}
		switch flag.Value.Type() {
		case "bool":
			if val, err := cmd.Flags().GetBool(flagName); err == nil {
				v.Set(key, val)
			}
		case "int":
			if val, err := cmd.Flags().GetInt(flagName); err == nil {
				v.Set(key, val)
			}
		default:
			v.Set(key, flag.Value.String())
		}
	}
}
