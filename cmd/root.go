package cmd

import (
	"fmt"
	"os"

	"github.com/prootgo/prootgo/pkg/config"
	"github.com/prootgo/prootgo/pkg/supervisor"

	"github.com/spf13/cobra"
)

var (
	rootfsFlag    string
	bindFlags     []string
	cwdFlag       string
	verboseFlag   int
	killOnExit    bool
	rcPathFlag    string
	assumeNewSecc bool
)

// version is overridden at link time (-ldflags "-X ...cmd.version=...");
// left as a plain default otherwise.
var version = "dev"

var RootCmd = &cobra.Command{
	Use:   "prootgo -r rootfs [-b host[:guest]]... [command [args]]",
	Short: "prootgo: user-space chroot, mount --bind and binfmt_misc",
	Long: `prootgo executes a command in an alternate root filesystem, with
no special permission: paths under the guest rootfs are rewritten onto
their host-side bindings for every traced system call.`,
	Version:            version,
	DisableFlagsInUseLine: true,
	Args:               cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if rootfsFlag == "" {
			return fmt.Errorf("-r/--rootfs is required")
		}
		if len(args) == 0 {
			return fmt.Errorf("no command given")
		}

		cfg := config.Defaults()
		if err := config.LoadRCFile(&cfg, rcPathFlag); err != nil {
			return err
		}

		cfg.Rootfs = rootfsFlag
		if cmd.Flags().Changed("cwd") {
			cfg.Cwd = cwdFlag
		}
		if cmd.Flags().Changed("verbose") {
			cfg.Verbose = verboseFlag
		}
		cfg.KillOnExit = killOnExit
		if cmd.Flags().Changed("assume-new-seccomp") {
			cfg.AssumeNewSeccomp = assumeNewSecc
		}
		for _, spec := range bindFlags {
			cfg.Binds = append(cfg.Binds, config.ParseBind(spec))
		}
		cfg.Command = args

		code := supervisor.Run(cfg)
		os.Exit(code)
		return nil
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.Flags().StringVarP(&rootfsFlag, "rootfs", "r", "", "guest rootfs to bind onto /")
	RootCmd.Flags().StringArrayVarP(&bindFlags, "bind", "b", nil, "make host path visible in the guest rootfs, optionally under a different guest path (host[:guest])")
	RootCmd.Flags().StringVarP(&cwdFlag, "cwd", "w", "", "initial working directory inside the guest rootfs")
	RootCmd.Flags().IntVarP(&verboseFlag, "verbose", "v", 0, "verbosity level")
	RootCmd.Flags().BoolVar(&killOnExit, "kill-on-exit", false, "kill every remaining tracee as soon as the initial command exits")
	RootCmd.Flags().BoolVar(&assumeNewSecc, "assume-new-seccomp", false, "assume the running kernel orders PTRACE_EVENT_SECCOMP before the SIGTRAP it pairs with")
	RootCmd.Flags().StringVar(&rcPathFlag, "rcfile", config.DefaultRCPath(), "path to the optional TOML rc-file")
	RootCmd.Flags().BoolP("version", "V", false, "print the version and exit")

	RootCmd.Flags().SetInterspersed(false)
	RootCmd.SetVersionTemplate("prootgo {{.Version}}\n")
}
