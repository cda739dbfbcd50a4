// Package monitor implements the four interchangeable strategies for
// observing a wrapped tool's progress: log file, captured stdout, status
// file, and UI window. A strategy is selected at construction time by
// configuration and never changes for the life of a run.
package monitor

import (
	"context"
	"regexp"

	"github.com/storagedv/toolproctor/internal/config"
	"github.com/storagedv/toolproctor/internal/fault"
	"github.com/storagedv/toolproctor/internal/model"
	"github.com/storagedv/toolproctor/internal/procmgr"
)

// Monitor samples a wrapped tool's state. Poll returns a reading for the
// classifier; a non-nil error means the monitor itself has failed fatally
// (e.g. UI connect retries exhausted), not that the tool failed.
type Monitor interface {
	Poll(ctx context.Context) (model.MonitorReading, error)
	Close() error
}

// New builds the monitor selected by cfg's monitor_strategy parameter.
// out is the started process's output buffer; only the stdout strategy
// uses it.
func New(cfg config.Config, out *procmgr.OutputBuffer) (Monitor, error) {
	strategy := cfg.String("monitor_strategy", "")
	switch strategy {
	case config.StrategyLogFile:
		passRe, failRe, err := compilePatterns(cfg)
		if err != nil {
			return nil, err
		}
		return NewLogFile(cfg.String("log_glob", ""), passRe, failRe)
	case config.StrategyStdout:
		passRe, failRe, err := compilePatterns(cfg)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, fault.New(fault.KindConfig, "stdout strategy requires a started process")
		}
		return NewStdout(out, passRe, failRe), nil
	case config.StrategyStatusFile:
		return NewStatusFile(StatusFileOptions{
			Path:      cfg.String("status_file_path", ""),
			Section:   cfg.String("status_section", "Test Status"),
			ResultKey: cfg.String("result_key", "test_result"),
			ErrorKey:  cfg.String("error_key", "err_msg"),
		}), nil
	case config.StrategyUI:
		titleRe, err := compileParam(cfg, "window_title_pattern")
		if err != nil {
			return nil, err
		}
		statusRe, err := compileParam(cfg, "status_text_pattern")
		if err != nil {
			return nil, err
		}
		errRe, err := compileParam(cfg, "error_count_pattern")
		if err != nil {
			return nil, err
		}
		return NewUI(UIOptions{
			TitlePattern:  titleRe,
			StatusPattern: statusRe,
			ErrorPattern:  errRe,
			RetryMax:      cfg.Int("retry_max", 60),
			RetryInterval: cfg.Seconds("retry_interval_seconds", 0),
		}), nil
	default:
		return nil, fault.New(fault.KindConfig, "unknown monitor strategy %q", strategy)
	}
}

func compilePatterns(cfg config.Config) (passRe, failRe *regexp.Regexp, err error) {
	passRe, err = compileParam(cfg, "pass_pattern")
	if err != nil {
		return nil, nil, err
	}
	failRe, err = compileParam(cfg, "fail_pattern")
	if err != nil {
		return nil, nil, err
	}
	return passRe, failRe, nil
}

func compileParam(cfg config.Config, key string) (*regexp.Regexp, error) {
	pattern := cfg.String(key, "")
	if pattern == "" {
		return nil, fault.New(fault.KindConfig, "parameter %q must be set for strategy %q",
			key, cfg.String("monitor_strategy", ""))
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "parameter %q is not a valid pattern", key)
	}
	return re, nil
}
