package chat

import (
	"context"
	"log/slog"

	"github.com/onnwee/livewatch/db"
	"github.com/onnwee/livewatch/stream"
)

// StreamObserver is an optional Sink extension told about each resolved stream.
type StreamObserver interface {
	StreamResolved(ctx context.Context, channelID string, st stream.Stream)
}

// ArchiveSink stores fetched messages in the Postgres chat archive.
type ArchiveSink struct {
	Archive *db.ChatArchive
}

func (s ArchiveSink) Store(ctx context.Context, msgs []Message) error {
	records := make([]db.ChatRecord, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		records = append(records, db.ChatRecord{
			MessageID:       m.ID,
			VideoID:         m.VideoID,
			ChatID:          m.ChatID,
			AuthorChannelID: m.AuthorChannelID,
			AuthorName:      m.AuthorName,
			Message:         m.Text,
			PublishedAt:     m.PublishedAt,
		})
	}
	n, err := s.Archive.StoreMessages(ctx, records)
	if err != nil {
		return err
	}
	slog.Debug("chat messages archived", slog.Int("new", n), slog.Int("fetched", len(msgs)), slog.String("component", "archive"))
	return nil
}

func (s ArchiveSink) StreamResolved(ctx context.Context, channelID string, st stream.Stream) {
	if err := s.Archive.RecordStream(ctx, channelID, st.VideoID, st.ChatID, st.Title); err != nil {
		slog.Warn("archive stream", slog.Any("err", err), slog.String("component", "archive"))
	}
}
