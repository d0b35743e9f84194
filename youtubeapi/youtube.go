// Package youtubeapi wraps the YouTube Data API for the live-chat monitor:
// live stream search, video lookups, and live chat list/insert. Every failure is
// returned as *Error carrying the HTTP status and googleapi reason so callers can
// branch on structured data instead of message text.
package youtubeapi

import (
	"context"
	"fmt"
	"time"

	yt "google.golang.org/api/youtube/v3"
)

// Quota unit costs from the YouTube Data API v3 cost table.
const (
	CostSearch     = 100
	CostVideosList = 1
	CostChatList   = 5
	CostChatInsert = 50
)

// LiveVideo is the subset of a video resource the resolver needs.
type LiveVideo struct {
	VideoID     string
	ChannelID   string
	Title       string
	ChatID      string
	ActualStart time.Time
	ActualEnd   time.Time
}

// Live reports whether the video is broadcasting with an active chat.
func (v LiveVideo) Live() bool {
	return v.ChatID != "" && v.ActualEnd.IsZero()
}

// ChatMessage is one live chat message.
type ChatMessage struct {
	ID              string
	AuthorChannelID string
	AuthorName      string
	Text            string
	PublishedAt     time.Time
}

// ChatPage is one liveChatMessages.list response.
type ChatPage struct {
	Messages        []ChatMessage
	NextPageToken   string
	PollingInterval time.Duration
	OfflineAt       time.Time
}

// Client is the authenticated surface consumed by the resolver, poller and sender.
// One Client exists per credential set.
type Client interface {
	SearchLive(ctx context.Context, channelID string) ([]LiveVideo, error)
	GetVideo(ctx context.Context, videoID string) (LiveVideo, error)
	ListChatMessages(ctx context.Context, chatID, pageToken string) (ChatPage, error)
	InsertChatMessage(ctx context.Context, chatID, text string) error
}

// Service implements Client over the generated YouTube client.
type Service struct {
	yt *yt.Service
}

// NewService wraps an authorized YouTube service.
func NewService(svc *yt.Service) *Service {
	return &Service{yt: svc}
}

// SearchLive lists the channel's currently live videos in upstream order.
func (s *Service) SearchLive(ctx context.Context, channelID string) ([]LiveVideo, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channelID empty")
	}
	res, err := s.yt.Search.List([]string{"id", "snippet"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(5).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrap("search.list", err)
	}
	out := make([]LiveVideo, 0, len(res.Items))
	for _, item := range res.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		v := LiveVideo{VideoID: item.Id.VideoId}
		if item.Snippet != nil {
			v.Title = item.Snippet.Title
			v.ChannelID = item.Snippet.ChannelId
		}
		out = append(out, v)
	}
	return out, nil
}

// GetVideo fetches snippet and live streaming details for one video.
// A missing video is reported as KindNotFound.
func (s *Service) GetVideo(ctx context.Context, videoID string) (LiveVideo, error) {
	if videoID == "" {
		return LiveVideo{}, fmt.Errorf("videoID empty")
	}
	res, err := s.yt.Videos.List([]string{"snippet", "liveStreamingDetails"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return LiveVideo{}, wrap("videos.list", err)
	}
	if len(res.Items) == 0 {
		return LiveVideo{}, &Error{Op: "videos.list", Kind: KindNotFound, Status: 404, Reason: "videoNotFound", Err: ErrNotFound}
	}
	item := res.Items[0]
	v := LiveVideo{VideoID: item.Id}
	if item.Snippet != nil {
		v.Title = item.Snippet.Title
		v.ChannelID = item.Snippet.ChannelId
	}
	if d := item.LiveStreamingDetails; d != nil {
		v.ChatID = d.ActiveLiveChatId
		v.ActualStart = parseTime(d.ActualStartTime)
		v.ActualEnd = parseTime(d.ActualEndTime)
	}
	return v, nil
}

// ListChatMessages fetches the page after pageToken (empty for the first page).
func (s *Service) ListChatMessages(ctx context.Context, chatID, pageToken string) (ChatPage, error) {
	call := s.yt.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return ChatPage{}, wrap("liveChatMessages.list", err)
	}
	page := ChatPage{
		NextPageToken:   res.NextPageToken,
		PollingInterval: time.Duration(res.PollingIntervalMillis) * time.Millisecond,
		OfflineAt:       parseTime(res.OfflineAt),
		Messages:        make([]ChatMessage, 0, len(res.Items)),
	}
	for _, item := range res.Items {
		m := ChatMessage{ID: item.Id}
		if item.Snippet != nil {
			m.Text = item.Snippet.DisplayMessage
			m.PublishedAt = parseTime(item.Snippet.PublishedAt)
		}
		if item.AuthorDetails != nil {
			m.AuthorChannelID = item.AuthorDetails.ChannelId
			m.AuthorName = item.AuthorDetails.DisplayName
		}
		page.Messages = append(page.Messages, m)
	}
	return page, nil
}

// InsertChatMessage posts a text message to the live chat.
func (s *Service) InsertChatMessage(ctx context.Context, chatID, text string) error {
	msg := &yt.LiveChatMessage{
		Snippet: &yt.LiveChatMessageSnippet{
			LiveChatId: chatID,
			Type:       "textMessageEvent",
			TextMessageDetails: &yt.LiveChatTextMessageDetails{
				MessageText: text,
			},
		},
	}
	if _, err := s.yt.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do(); err != nil {
		return wrap("liveChatMessages.insert", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
