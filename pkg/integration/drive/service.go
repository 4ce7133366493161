package drive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// FileInfo represents metadata about a Drive file.
type FileInfo struct {
	ID         string
	Name       string
	MimeType   string
	ModifiedAt time.Time
	Size       int64
}

// DriveAPI is the part of Drive the report publisher needs.
type DriveAPI interface {
	ListFiles(ctx context.Context) ([]FileInfo, error)
	Upload(ctx context.Context, name, mimeType string, data []byte, existingFileID string) (string, error)
}

// Service wraps the Google Drive API.
type Service struct {
	srv      *gdrive.Service
	folderID string
}

// NewService creates a new Drive service using service account credentials.
func NewService(ctx context.Context, credentialsFile, folderID string, opts ...option.ClientOption) (*Service, error) {
	opts = append([]option.ClientOption{
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gdrive.DriveFileScope),
	}, opts...)
	srv, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &Service{srv: srv, folderID: folderID}, nil
}

// ListFiles returns all files in the configured folder.
func (s *Service) ListFiles(ctx context.Context) ([]FileInfo, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", s.folderID)
	var result []FileInfo

	pageToken := ""
	for {
		call := s.srv.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, mimeType, modifiedTime, size)").
			Context(ctx)

		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}

		for _, f := range resp.Files {
			modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
			result = append(result, FileInfo{
				ID:         f.Id,
				Name:       f.Name,
				MimeType:   f.MimeType,
				ModifiedAt: modTime,
				Size:       f.Size,
			})
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return result, nil
}

// Upload stores data in the folder. If existingFileID is non-empty the file
// is replaced; otherwise a new one is created. Returns the file ID.
func (s *Service) Upload(ctx context.Context, name, mimeType string, data []byte, existingFileID string) (string, error) {
	media := googleapi.ContentType(mimeType)

	if existingFileID != "" {
		updated, err := s.srv.Files.Update(existingFileID, &gdrive.File{Name: name}).
			Media(bytes.NewReader(data), media).
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("update file: %w", err)
		}
		return updated.Id, nil
	}

	created, err := s.srv.Files.Create(&gdrive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{s.folderID},
	}).
		Media(bytes.NewReader(data), media).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	return created.Id, nil
}
