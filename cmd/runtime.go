package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sunbk201/netrule/internal/config"
	"github.com/sunbk201/netrule/internal/descriptor"
	applog "github.com/sunbk201/netrule/internal/log"
	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/rule/match"
	"github.com/sunbk201/netrule/internal/settings"
)

// runtime is everything built from the config that the commands share.
type runtime struct {
	cfg    *config.Config
	holder *settings.Holder
	local  *descriptor.LocalSet
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, []settings.Warning, error) {
	compiler, err := match.NewCompiler(cfg.Engine.ParseCacheSize)
	if err != nil {
		return nil, nil, err
	}
	local, err := descriptor.NewLocalSet(cfg.LocalAddresses)
	if err != nil {
		return nil, nil, err
	}

	holder := settings.NewHolder(settings.NewFileStore(cfg.SettingsFile), compiler)
	warnings, err := holder.Reload(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load settings %s: %w", cfg.SettingsFile, err)
	}
	return &runtime{cfg: cfg, holder: holder, local: local}, warnings, nil
}

func (rt *runtime) engine(opts ...rule.Option) *rule.Engine {
	return rule.NewEngine(append([]rule.Option{rule.WithMaxRules(rt.cfg.Engine.MaxRules)}, opts...)...)
}

// setCLILogger sends logs to stderr so command output stays parseable.
func setCLILogger(level string) {
	slog.SetDefault(slog.New(applog.NewHandler(os.Stderr, applog.ParseLevel(level))))
}
