package daemon

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/msageha/herald/internal/banner"
	"github.com/msageha/herald/internal/messages"
	"github.com/msageha/herald/internal/model"
	"github.com/msageha/herald/internal/notify"
	"github.com/msageha/herald/internal/tmux"
)

const (
	delegateBanner = "banner"
	delegateNotify = "notify"
	delegateTmux   = "tmux"
)

// buildDelegate assembles the presentation delegate named by cfg.Kinds.
// Several kinds are combined and complete together.
func buildDelegate(cfg model.DelegateConfig, w io.Writer, logger *log.Logger) (messages.Delegate, error) {
	var multi banner.Multi
	seen := make(map[string]bool)
	for _, kind := range cfg.Kinds {
		if seen[kind] {
			continue
		}
		seen[kind] = true

		switch kind {
		case delegateBanner:
			multi = append(multi, banner.New(w, banner.Options{
				Width:    cfg.BannerWidth,
				ShowAnim: time.Duration(cfg.ShowAnimMs) * time.Millisecond,
				HideAnim: time.Duration(cfg.HideAnimMs) * time.Millisecond,
			}))
		case delegateNotify:
			multi = append(multi, notify.NewDelegate(func(err error) {
				logger.Printf("%s WARN delegate: notify: %v", time.Now().Format(time.RFC3339), err)
			}))
		case delegateTmux:
			if !tmux.Available() {
				logger.Printf("%s WARN delegate: tmux kind configured outside tmux, skipping", time.Now().Format(time.RFC3339))
				continue
			}
			multi = append(multi, tmux.NewDelegate(func(err error) {
				logger.Printf("%s WARN delegate: tmux: %v", time.Now().Format(time.RFC3339), err)
			}))
		default:
			return nil, fmt.Errorf("unknown delegate kind %q", kind)
		}
	}
	if len(multi) == 0 {
		return nil, fmt.Errorf("no delegate kinds configured")
	}
	if len(multi) == 1 {
		return multi[0], nil
	}
	return multi, nil
}
