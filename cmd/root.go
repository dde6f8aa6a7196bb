package cmd

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rankwatch/rankwatch/internal/config"
	"github.com/rankwatch/rankwatch/internal/utils"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rankwatch",
	Short: "Track player stats and leaderboards across osu! servers.",
	Long: `rankwatch polls akatsuki, titanic and bancho for leaderboards, profiles,
scores and clans, stores dated snapshots in SQLite and reports rank changes.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rankwatch.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "", "Set log level. Available: debug, info, warn, error, fatal")
	viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".rankwatch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("rankwatch")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			if err := viper.SafeWriteConfigAs(home + "/.rankwatch.yaml"); err != nil {
				fmt.Printf("Error creating config file: %s\n", err)
			}
		} else {
			fmt.Printf("Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	if err := utils.SetLogLevel(viper.GetString("loglevel")); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig decodes the global configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
