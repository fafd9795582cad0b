// Package cli provides the command-line interface for blockyard
package cli

// init registers all commands and their flags
func init() {
	rootCmd.AddCommand(serverCmd, pluginsCmd, healthCheckCmd, initCmd)
	serverCmd.AddCommand(serverRunCmd, serverFlagsCmd)
	pluginsCmd.AddCommand(pluginsSearchCmd, pluginsPlanCmd, pluginsInstallCmd, pluginsUpdateCmd, pluginsListCmd, pluginsRemoveCmd)

	serverRunCmd.Flags().BoolVar(&warnBeforeRestart, "warn", false, "send restart warnings before :restart")
	pluginsSearchCmd.Flags().BoolVar(&showAll, "all", false, "also list incompatible results")
	pluginsPlanCmd.Flags().BoolVar(&withOptional, "optional", false, "include soft dependencies")
	pluginsInstallCmd.Flags().BoolVar(&withOptional, "optional", false, "include soft dependencies")
	pluginsInstallCmd.Flags().StringVar(&archivePath, "file", "", "install a local plugin archive")
	pluginsUpdateCmd.Flags().BoolVar(&checkOnly, "check", false, "only list available updates")
	pluginsUpdateCmd.Flags().BoolVar(&withOptional, "optional", false, "include soft dependencies")
	initCmd.Flags().StringVarP(&outputPath, "output", "o", "", "config path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite")
}
