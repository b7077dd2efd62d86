package config

import (
	"fmt"
	"os"
	"path/filepath"

	"golang-wa-dispatch/internal/domain"
)

// BuildRun assembles a fresh RunContext from the configuration, reading
// the shared attachment from disk when one is configured. Attachment and
// public URL are mutually exclusive; the URL wins if both are set.
func (c Config) BuildRun() (domain.RunContext, error) {
	run := domain.NewRunContext(c.GatewayToken, c.RunLabel, domain.FormatDateRange(c.RunStart, c.RunEnd))
	run.OverridePhone = c.OverridePhone

	switch {
	case c.AttachmentURL != "":
		run.PublicURL = c.AttachmentURL
	case c.AttachmentPath != "":
		data, err := os.ReadFile(c.AttachmentPath)
		if err != nil {
			return domain.RunContext{}, fmt.Errorf("read attachment: %w", err)
		}
		run.Attachment = &domain.Attachment{
			Filename: filepath.Base(c.AttachmentPath),
			Data:     data,
		}
	}
	return run, nil
}
