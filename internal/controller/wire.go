package controller

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/storagedv/toolproctor/internal/config"
	"github.com/storagedv/toolproctor/internal/fault"
	"github.com/storagedv/toolproctor/internal/monitor"
	"github.com/storagedv/toolproctor/internal/procmgr"
)

// managedProcess adapts procmgr.Manager to the ProcessManager contract and
// owns the stdout.log tee in the artifacts directory.
type managedProcess struct {
	mgr     *procmgr.Manager
	logPath string
}

func (p *managedProcess) IsInstalled() bool { return p.mgr.IsInstalled() }

func (p *managedProcess) Install(ctx context.Context) error { return p.mgr.Install(ctx) }

func (p *managedProcess) Uninstall(ctx context.Context) { p.mgr.Uninstall(ctx) }

func (p *managedProcess) StartProcess(ctx context.Context, args []string) (ProcessHandle, error) {
	var tee *os.File
	if p.logPath != "" {
		f, err := os.OpenFile(p.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fault.Wrap(fault.KindProcess, err, "open output log %s", p.logPath)
		}
		tee = f
		p.mgr.ExtraOutput = f
	}

	h, err := p.mgr.StartProcess(ctx, args)
	if err != nil {
		if tee != nil {
			_ = tee.Close()
		}
		return nil, err
	}
	if tee != nil {
		go func() {
			<-h.Done()
			_ = tee.Close()
		}()
	}
	return h, nil
}

func (p *managedProcess) StopProcess(h ProcessHandle) error {
	return p.mgr.StopProcess(h.(*procmgr.Handle))
}

func (p *managedProcess) IsRunning(h ProcessHandle) bool {
	if h == nil {
		return false
	}
	return p.mgr.IsRunning(h.(*procmgr.Handle))
}

// NewFromConfig assembles a production Controller for a registered tool:
// a procmgr.Manager built from the tool's parameters, a stdout.log tee in
// the artifacts directory, and the monitor strategy the configuration
// selects. Overrides are merged on top of the tool's schema defaults.
func NewFromConfig(reg *config.Registry, tool, outputDir string, overrides config.Config, logger *log.Logger, level LogLevel) (*Controller, error) {
	def, ok := reg.Tool(tool)
	if !ok {
		return nil, fault.New(fault.KindConfig, "unknown tool %q", tool)
	}
	cfg, err := def.Schema.Merge(def.Schema.Defaults(), overrides)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "create output dir %s", outputDir)
	}

	installArgs := cfg.Args("install_args")
	if lic := cfg.String("license_path", ""); lic != "" {
		installArgs = append(installArgs, lic)
	}

	proc := &managedProcess{
		mgr: &procmgr.Manager{
			Executable:    cfg.String("executable_path", ""),
			Installer:     cfg.String("installer_path", ""),
			InstallArgs:   installArgs,
			Uninstaller:   cfg.String("uninstaller_path", ""),
			UninstallArgs: cfg.Args("uninstall_args"),
			WorkDir:       cfg.String("work_dir", ""),
			Grace:         cfg.Seconds("stop_grace_seconds", 0),
			Logger:        logger,
		},
		logPath: filepath.Join(outputDir, "stdout.log"),
	}

	newMonitor := func(h ProcessHandle) (monitor.Monitor, error) {
		return monitor.New(cfg, h.Output())
	}

	return New(Options{
		Tool:       tool,
		Schema:     def.Schema,
		Config:     cfg,
		Process:    proc,
		NewMonitor: newMonitor,
		OutputDir:  outputDir,
		Logger:     logger,
		LogLevel:   level,
	})
}
