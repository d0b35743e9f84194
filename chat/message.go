package chat

import (
	"time"

	"github.com/onnwee/livewatch/stream"
	"github.com/onnwee/livewatch/youtubeapi"
)

// Message is a received live chat message.
type Message struct {
	ID              string    `json:"id"`
	ChatID          string    `json:"chat_id"`
	VideoID         string    `json:"video_id"`
	AuthorChannelID string    `json:"author_channel_id"`
	AuthorName      string    `json:"author_name"`
	Text            string    `json:"text"`
	PublishedAt     time.Time `json:"published_at"`
}

func fromAPI(st stream.Stream, in []youtubeapi.ChatMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		out = append(out, Message{
			ID:              m.ID,
			ChatID:          st.ChatID,
			VideoID:         st.VideoID,
			AuthorChannelID: m.AuthorChannelID,
			AuthorName:      m.AuthorName,
			Text:            m.Text,
			PublishedAt:     m.PublishedAt,
		})
	}
	return out
}
