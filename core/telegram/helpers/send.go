package helpers

import (
	"context"
	"path/filepath"

	"github.com/m3rciful/agentbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// AlbumLimit is the maximum number of items Telegram accepts per media group.
const AlbumLimit = 10

// API is the subset of *tele.Bot used for outbound messages.
type API interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
	SendAlbum(to tele.Recipient, a tele.Album, opts ...any) ([]tele.Message, error)
}

// Outbound sends messages through the retrier. Calls run in the caller's
// goroutine, so one caller's messages keep their order.
type Outbound struct {
	api     API
	retrier *sender.Retrier
}

// NewOutbound wires the bot API with a retrier; a nil retrier sends once.
func NewOutbound(api API, retrier *sender.Retrier) *Outbound {
	return &Outbound{api: api, retrier: retrier}
}

func (o *Outbound) do(ctx context.Context, action, endpoint string, run func() error) error {
	if o.retrier == nil {
		return run()
	}
	return o.retrier.Do(ctx, action, endpoint, run)
}

// SendText sends text with optional send options.
func (o *Outbound) SendText(ctx context.Context, to tele.Recipient, text string, opts *tele.SendOptions) error {
	return o.do(ctx, "send.text", "sendMessage", func() error {
		if opts != nil {
			_, err := o.api.Send(to, text, opts)
			return err
		}
		_, err := o.api.Send(to, text)
		return err
	})
}

// SendMD sends a message with Markdown parse mode and optional reply markup.
func (o *Outbound) SendMD(ctx context.Context, to tele.Recipient, text string, markup *tele.ReplyMarkup) error {
	return o.SendText(ctx, to, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup})
}

// SendDocuments sends each file as a separate document, stopping at the first failure.
func (o *Outbound) SendDocuments(ctx context.Context, to tele.Recipient, paths []string) error {
	for _, p := range paths {
		doc := &tele.Document{File: tele.FromDisk(p), FileName: filepath.Base(p)}
		if err := o.do(ctx, "send.document", "sendDocument", func() error {
			_, err := o.api.Send(to, doc)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// SendPhotos sends photos as albums of at most AlbumLimit items. A trailing
// single photo goes out as a plain photo since albums need two items.
func (o *Outbound) SendPhotos(ctx context.Context, to tele.Recipient, paths []string) error {
	for _, chunk := range ChunkPaths(paths, AlbumLimit) {
		if len(chunk) == 1 {
			photo := &tele.Photo{File: tele.FromDisk(chunk[0])}
			if err := o.do(ctx, "send.photo", "sendPhoto", func() error {
				_, err := o.api.Send(to, photo)
				return err
			}); err != nil {
				return err
			}
			continue
		}
		album := make(tele.Album, 0, len(chunk))
		for _, p := range chunk {
			album = append(album, &tele.Photo{File: tele.FromDisk(p)})
		}
		if err := o.do(ctx, "send.album", "sendMediaGroup", func() error {
			_, err := o.api.SendAlbum(to, album)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// ChunkPaths splits paths into consecutive groups of at most n.
func ChunkPaths(paths []string, n int) [][]string {
	if n <= 0 {
		n = 1
	}
	var out [][]string
	for i := 0; i < len(paths); i += n {
		out = append(out, paths[i:min(i+n, len(paths))])
	}
	return out
}
