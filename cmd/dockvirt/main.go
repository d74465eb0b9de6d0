// dockvirt – disposable, Docker-habit VMs on local libvirt/KVM.
//
// Usage:
//
//	dockvirt up [flags]                 – resolve a VMSpec and bring it to Ready
//	dockvirt down [name]                – tear down a VM, idempotently
//	dockvirt ip <name>                  – print a VM's current DHCP lease
//	dockvirt stack deploy <file.yaml>   – deploy a declared set of VMs
//	dockvirt stack destroy <file.yaml>  – tear a stack down in reverse order
//	dockvirt check                      – run the doctor's read-only checks
//	dockvirt heal [--apply]             – run the doctor, optionally repairing
//	dockvirt generate-image <out.iso>   – build an installer data ISO (no boot record)
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dockvirt/dockvirt/internal/clilog"
	"github.com/dockvirt/dockvirt/internal/config"
	"github.com/dockvirt/dockvirt/internal/doctor"
	"github.com/dockvirt/dockvirt/internal/dockvirt"
	"github.com/dockvirt/dockvirt/internal/engine"
	"github.com/dockvirt/dockvirt/internal/env"
	"github.com/dockvirt/dockvirt/internal/hypervisor"
	"github.com/dockvirt/dockvirt/internal/imagecache"
	"github.com/dockvirt/dockvirt/internal/installer"
	"github.com/dockvirt/dockvirt/internal/stack"
)

func main() {
	os.Exit(run())
}

func run() int {
	e, err := env.New()
	if err != nil {
		clilog.Error(fmt.Sprintf("resolve base directory: %v", err))
		return dockvirt.Internal.ExitCode()
	}
	if err := e.EnsureBase(); err != nil {
		clilog.Error(fmt.Sprintf("prepare base directory: %v", err))
		return dockvirt.Internal.ExitCode()
	}
	audit, err := clilog.NewAudit(e.LogFile())
	if err != nil {
		clilog.Error(fmt.Sprintf("open audit log: %v", err))
		return dockvirt.Internal.ExitCode()
	}
	defer audit.Sync()

	app := &application{env: e, audit: audit}
	root := &cobra.Command{
		Use:   "dockvirt",
		Short: "Disposable Docker-habit VMs on local libvirt",
		Long: `dockvirt boots a throwaway VM that behaves like "docker run" for a
project, backed by libvirt/KVM: a cloud image, a seed with your container
or Dockerfile baked into cloud-init, and readiness checks for both the
guest's network lease and its HTTP endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		app.upCmd(),
		app.downCmd(),
		app.ipCmd(),
		app.stackCmd(),
		app.checkCmd(),
		app.healCmd(),
		app.generateImageCmd(),
	)

	if err := root.Execute(); err != nil {
		kind := dockvirt.KindOf(err)
		clilog.Outcome(err)
		return kind.ExitCode()
	}
	return 0
}

// application threads the Environment and audit sink through every
// subcommand's RunE, avoiding the ambient-singleton pattern the design
// notes flag.
type application struct {
	env   *env.Environment
	audit *clilog.Audit
}

func (a *application) record(verb, name string, err error, start time.Time) {
	outcome := "ok"
	kind := ""
	if err != nil {
		outcome = "error"
		kind = string(dockvirt.KindOf(err))
	}
	a.audit.Record(verb, name, outcome, kind, time.Since(start))
}

func (a *application) newEngine() *engine.Engine {
	cache, err := imagecache.New(a.env.ImagesDir())
	if err != nil {
		panic(err) // EnsureBase already created this directory; only disk failure reaches here
	}
	return engine.New(a.env, cache, hypervisor.New())
}

// resolveSpec implements §4.1's merge order: GlobalConfig defaults <
// ProjectConfig < CLI overrides, discovering the project file by upward
// traversal from the current working directory.
func resolveSpec(e *env.Environment, overrides map[string]string, fallbackName string) (*config.GlobalConfig, *config.VMSpec, string, error) {
	global, err := config.LoadGlobal(e.ConfigFile())
	if err != nil {
		return nil, nil, "", err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, "", dockvirt.Wrap(dockvirt.Internal, err, "resolve working directory", "", "")
	}

	projectDir := cwd
	project := map[string]string{}
	if path, err := config.DiscoverProjectFile(cwd); err != nil {
		return nil, nil, "", err
	} else if path != "" {
		project, err = config.ParseProjectFile(path)
		if err != nil {
			return nil, nil, "", err
		}
		projectDir = filepath.Dir(path)
	}

	spec, err := config.Resolve(global, project, overrides, fallbackName)
	if err != nil {
		return nil, nil, "", err
	}
	return global, spec, projectDir, nil
}

// ── up ───────────────────────────────────────────────────────────────────

func (a *application) upCmd() *cobra.Command {
	var name, domain, image, osKey, net string
	var port, mem, cpus, disk int

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Resolve a VMSpec from config and bring it to Ready",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			overrides := map[string]string{}
			setIfChanged(cmd, overrides, "name", name)
			setIfChanged(cmd, overrides, "domain", domain)
			setIfChanged(cmd, overrides, "image", image)
			setIfChanged(cmd, overrides, "os", osKey)
			setIfChanged(cmd, overrides, "net", net)
			if cmd.Flags().Changed("port") {
				overrides["port"] = fmt.Sprintf("%d", port)
			}
			if cmd.Flags().Changed("mem") {
				overrides["mem"] = fmt.Sprintf("%d", mem)
			}
			if cmd.Flags().Changed("cpus") {
				overrides["cpus"] = fmt.Sprintf("%d", cpus)
			}
			if cmd.Flags().Changed("disk") {
				overrides["disk"] = fmt.Sprintf("%d", disk)
			}

			global, spec, projectDir, err := resolveSpec(a.env, overrides, "")
			if err != nil {
				a.record("up", "", err, start)
				return err
			}

			clilog.Info(fmt.Sprintf("bringing up %s (image=%s os=%s)", spec.Name, spec.Image, spec.OS))
			inst, err := a.newEngine().Up(context.Background(), spec, global, projectDir)
			a.record("up", spec.Name, err, start)
			if err != nil {
				if inst != nil && inst.IP != "" {
					clilog.Warn(fmt.Sprintf("%s reached %s at %s but did not finish readiness: %v", spec.Name, inst.State, inst.IP, err))
				}
				return err
			}
			clilog.Ok(fmt.Sprintf("%s is %s at %s", spec.Name, inst.State, inst.IP))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "VM name override")
	cmd.Flags().StringVar(&domain, "domain", "", "Host header for HTTP readiness")
	cmd.Flags().StringVar(&image, "image", "", "container image reference")
	cmd.Flags().StringVar(&osKey, "os", "", "image catalog key")
	cmd.Flags().StringVar(&net, "net", "", `"default" or "bridge=<ifname>"`)
	cmd.Flags().IntVar(&port, "port", 0, "guest port to reverse-proxy and probe")
	cmd.Flags().IntVar(&mem, "mem", 0, "memory in MiB")
	cmd.Flags().IntVar(&cpus, "cpus", 0, "vCPU count")
	cmd.Flags().IntVar(&disk, "disk", 0, "disk size in GiB")
	return cmd
}

func setIfChanged(cmd *cobra.Command, overrides map[string]string, flag, value string) {
	if cmd.Flags().Changed(flag) {
		overrides[flag] = value
	}
}

// ── down ─────────────────────────────────────────────────────────────────

func (a *application) downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down [name]",
		Short: "Tear down a VM idempotently",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			start := time.Now()
			name := ""
			if len(args) == 1 {
				name = args[0]
			} else {
				_, spec, _, err := resolveSpec(a.env, nil, "")
				if err != nil {
					a.record("down", "", err, start)
					return err
				}
				name = spec.Name
			}

			err := a.newEngine().Down(context.Background(), name)
			a.record("down", name, err, start)
			if err != nil {
				return err
			}
			clilog.Ok(fmt.Sprintf("%s torn down", name))
			return nil
		},
	}
}

// ── ip ───────────────────────────────────────────────────────────────────

func (a *application) ipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ip <name>",
		Short: "Print a VM's current DHCP lease, or fail if none is held",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			start := time.Now()
			name := args[0]
			_, spec, _, err := resolveSpec(a.env, map[string]string{"name": name}, name)
			if err != nil {
				a.record("ip", name, err, start)
				return err
			}
			ip, err := a.newEngine().IP(context.Background(), name, spec.Net)
			a.record("ip", name, err, start)
			if err != nil {
				return err
			}
			fmt.Println(ip)
			return nil
		},
	}
}

// ── stack ────────────────────────────────────────────────────────────────

func (a *application) stackCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stack", Short: "Deploy or destroy a declared set of VMs"}
	cmd.AddCommand(a.stackDeployCmd(), a.stackDestroyCmd())
	return cmd
}

func (a *application) stackDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <file.yaml>",
		Short: "Deploy a stack declaration in dependency order",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			start := time.Now()
			decl, global, projectDir, err := a.loadStack(args[0])
			if err != nil {
				a.record("stack-deploy", args[0], err, start)
				return err
			}
			r := &stack.Reconciler{Engine: stack.EngineAdapter{Engine: a.newEngine()}, Global: global}
			statuses, err := r.Deploy(context.Background(), decl, projectDir)
			a.record("stack-deploy", args[0], err, start)
			if err != nil {
				return err
			}
			printStackResult(statuses)
			return nil
		},
	}
}

func (a *application) stackDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <file.yaml>",
		Short: "Tear a stack down in reverse dependency order",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			start := time.Now()
			decl, global, projectDir, err := a.loadStack(args[0])
			if err != nil {
				a.record("stack-destroy", args[0], err, start)
				return err
			}
			r := &stack.Reconciler{Engine: stack.EngineAdapter{Engine: a.newEngine()}, Global: global}
			statuses, err := r.Destroy(context.Background(), decl, projectDir)
			a.record("stack-destroy", args[0], err, start)
			if err != nil {
				return err
			}
			printStackResult(statuses)
			return nil
		},
	}
}

func (a *application) loadStack(path string) (*stack.Decl, *config.GlobalConfig, string, error) {
	decl, err := stack.Load(path)
	if err != nil {
		return nil, nil, "", err
	}
	global, err := config.LoadGlobal(a.env.ConfigFile())
	if err != nil {
		return nil, nil, "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, "", dockvirt.Wrap(dockvirt.Internal, err, "resolve stack file path", path, "")
	}
	return decl, global, filepath.Dir(abs), nil
}

func printStackResult(statuses map[string]stack.Status) {
	for name, st := range statuses {
		switch st {
		case stack.Succeeded:
			clilog.Ok(fmt.Sprintf("%s: %s", name, st))
		case stack.Degraded:
			clilog.Warn(fmt.Sprintf("%s: %s", name, st))
		case stack.Skipped:
			clilog.Skip(fmt.Sprintf("%s: %s", name, st))
		default:
			clilog.Error(fmt.Sprintf("%s: %s", name, st))
		}
	}
}

// ── check / heal ─────────────────────────────────────────────────────────

func (a *application) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the doctor's read-only checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.runDoctor(false)
		},
	}
}

func (a *application) healCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Run the doctor, optionally applying fixes",
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.runDoctor(apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "apply fixable repairs instead of only reporting them")
	return cmd
}

func (a *application) runDoctor(apply bool) error {
	start := time.Now()
	report := doctor.New(a.env).Run(context.Background(), apply)
	for _, f := range report.Findings {
		switch {
		case f.OK:
			clilog.Ok(f.ID + ": " + f.Message)
		case f.Fixable && !apply:
			clilog.Warn(f.ID + ": " + f.Message + " (fixable with --apply)")
		default:
			clilog.Error(f.ID + ": " + f.Message)
		}
	}
	var err error
	if !report.AllOK() {
		err = dockvirt.New(dockvirt.ToolMissing, "one or more checks failed", "", "run `dockvirt heal --apply`")
	}
	a.record("doctor", "", err, start)
	return err
}

// ── generate-image ───────────────────────────────────────────────────────

func (a *application) generateImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-image <output.iso>",
		Short: "Build an installer data ISO (no boot record) carrying this tool and a self-heal unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			start := time.Now()
			self, err := os.Executable()
			if err != nil {
				a.record("generate-image", args[0], err, start)
				return dockvirt.Wrap(dockvirt.Internal, err, "locate running binary", "", "")
			}
			err = installer.Generate(context.Background(), self, args[0])
			a.record("generate-image", args[0], err, start)
			if err != nil {
				return err
			}
			clilog.Ok("wrote installer image to " + args[0])
			return nil
		},
	}
}

