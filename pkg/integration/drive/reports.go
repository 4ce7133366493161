package drive

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// MIME types of the exported incident reports.
const (
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeCSV  = "text/csv"
)

// Publisher uploads exported reports, replacing an earlier upload with the
// same name.
type Publisher struct {
	api DriveAPI
	log *zap.Logger
}

func NewPublisher(api DriveAPI, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{api: api, log: logger.Named("drive")}
}

// Publish uploads data as name and returns the Drive file ID.
func (p *Publisher) Publish(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	files, err := p.api.ListFiles(ctx)
	if err != nil {
		return "", err
	}
	existing := ""
	for _, f := range files {
		if f.Name == name {
			existing = f.ID
			break
		}
	}
	id, err := p.api.Upload(ctx, name, mimeType, data, existing)
	if err != nil {
		return "", fmt.Errorf("failed to publish %s: %w", name, err)
	}
	p.log.Info("report published", zap.String("name", name), zap.String("file_id", id),
		zap.Bool("replaced", existing != ""), zap.Int("bytes", len(data)))
	return id, nil
}
