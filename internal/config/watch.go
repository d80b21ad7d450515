package config

import (
	"context"
	"os"
	"time"
)

// WatchBusinesses loads businesses.yaml once, then polls its mtime and calls
// onUpdate after every successful reload. Reload errors go to onError and the
// previous config stays in effect.
func WatchBusinesses(
	ctx context.Context,
	path string,
	interval time.Duration,
	onUpdate func(*BusinessesConfig),
	onError func(error),
) error {
	if path == "" {
		path = "configs/businesses.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if onError == nil {
		onError = func(error) {}
	}

	cfg, err := LoadBusinessesConfig(path)
	if err != nil {
		return err
	}
	onUpdate(cfg)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	go pollFile(ctx, path, interval, info.ModTime(), func() {
		next, err := LoadBusinessesConfig(path)
		if err != nil {
			onError(err)
			return
		}
		onUpdate(next)
	})
	return nil
}

func pollFile(ctx context.Context, path string, interval time.Duration, lastMod time.Time, reload func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil || !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			reload()
		}
	}
}
