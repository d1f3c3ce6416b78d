// Package telegram implements transport.Client on top of telebot.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgcast/internal/domain"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

// Config tunes the HTTP side of a client. Zero values use defaults.
type Config struct {
	// APIURL overrides the provider endpoint (tests point it at httptest).
	APIURL string
	// RequestTimeout bounds a single HTTP exchange, including uploads.
	RequestTimeout time.Duration
}

// Client is a transport.Client bound to one bot credential.
type Client struct {
	bot *tele.Bot
	log logx.Logger
}

var _ transport.Client = (*Client)(nil)

// New builds an offline client: no network call is made until the first request.
func New(token string, cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, &transport.Error{Kind: transport.KindConfiguration, Op: "new", Err: errors.New("telegram token is empty")}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	hc := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   15 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   15 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     cfg.APIURL,
		Client:  hc,
		Offline: true,
	})
	if err != nil {
		return nil, &transport.Error{Kind: transport.KindConfiguration, Op: "new", Err: err}
	}
	return &Client{bot: b, log: log}, nil
}

// chatRef addresses a chat by numeric id or @handle.
type chatRef string

func (c chatRef) Recipient() string { return string(c) }

func sendOptions(opt *transport.SendOptions, withButtons bool) *tele.SendOptions {
	so := &tele.SendOptions{}
	if opt == nil {
		return so
	}
	so.ParseMode = parseMode(opt.Format)
	so.DisableWebPagePreview = opt.DisablePreview
	if withButtons {
		if kb := keyboard(opt.Buttons); kb != nil {
			so.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: kb}
		}
	}
	return so
}

func parseMode(f domain.Format) tele.ParseMode {
	switch f {
	case domain.FormatBasic:
		return tele.ModeHTML
	case domain.FormatRich:
		return tele.ModeMarkdownV2
	default:
		return tele.ModeDefault
	}
}

func keyboard(rows []domain.ButtonRow) [][]tele.InlineButton {
	var out [][]tele.InlineButton
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			if strings.TrimSpace(b.Label) == "" || strings.TrimSpace(b.URL) == "" {
				continue
			}
			r = append(r, tele.InlineButton{Text: b.Label, URL: b.URL})
		}
		if len(r) > 0 {
			out = append(out, r)
		}
	}
	return out
}

func (c *Client) SendText(ctx context.Context, chat string, text string, opt *transport.SendOptions) (transport.Receipt, error) {
	var f domain.Format
	if opt != nil {
		f = opt.Format
	}
	chunks := transport.SplitText(text, transport.TextLimit, f)
	if len(chunks) > 1 {
		c.log.Debug("long text split", logx.String("chat", chat), logx.Int("chunks", len(chunks)))
	}
	var rc transport.Receipt
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return rc, err
		}
		// Markup goes under the last chunk so it follows the full text.
		msg, err := c.bot.Send(chatRef(chat), chunk, sendOptions(opt, i == len(chunks)-1))
		if err != nil {
			return rc, classify("sendMessage", err)
		}
		rc.MessageIDs = append(rc.MessageIDs, msg.ID)
	}
	return rc, nil
}

func (c *Client) SendPhoto(ctx context.Context, chat string, m transport.Media, caption string, opt *transport.SendOptions) (transport.Receipt, error) {
	return c.sendFile(ctx, "sendPhoto", chat, caption, opt, func(capt string) any {
		return &tele.Photo{File: tele.FromDisk(m.Path), Caption: capt}
	})
}

func (c *Client) SendVideo(ctx context.Context, chat string, m transport.Media, caption string, opt *transport.SendOptions) (transport.Receipt, error) {
	return c.sendFile(ctx, "sendVideo", chat, caption, opt, func(capt string) any {
		return &tele.Video{File: tele.FromDisk(m.Path), Caption: capt, FileName: m.FileName}
	})
}

func (c *Client) SendDocument(ctx context.Context, chat string, m transport.Media, caption string, opt *transport.SendOptions) (transport.Receipt, error) {
	return c.sendFile(ctx, "sendDocument", chat, caption, opt, func(capt string) any {
		return &tele.Document{File: tele.FromDisk(m.Path), Caption: capt, FileName: m.FileName}
	})
}

// sendFile uploads one file. A caption over the provider limit is sent as a
// follow-up text message instead.
func (c *Client) sendFile(ctx context.Context, op, chat, caption string, opt *transport.SendOptions, build func(string) any) (transport.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return transport.Receipt{}, err
	}
	overflow := len([]rune(caption)) > transport.CaptionLimit
	capt := caption
	if overflow {
		capt = ""
	}
	msg, err := c.bot.Send(chatRef(chat), build(capt), sendOptions(opt, !overflow))
	if err != nil {
		return transport.Receipt{}, classify(op, err)
	}
	rc := transport.Receipt{MessageIDs: []int{msg.ID}}
	if !overflow {
		return rc, nil
	}
	more, err := c.SendText(ctx, chat, caption, opt)
	rc.MessageIDs = append(rc.MessageIDs, more.MessageIDs...)
	return rc, err
}

// SendMediaGroup sends items as one album. The caption rides on the first
// item; buttons are not supported on albums and are dropped.
func (c *Client) SendMediaGroup(ctx context.Context, chat string, items []transport.Media, caption string, opt *transport.SendOptions) (transport.Receipt, error) {
	if len(items) == 0 {
		return transport.Receipt{}, &transport.Error{Kind: transport.KindRejected, Op: "sendMediaGroup", Err: errors.New("empty media group")}
	}
	if err := ctx.Err(); err != nil {
		return transport.Receipt{}, err
	}
	overflow := len([]rune(caption)) > transport.CaptionLimit
	album := make(tele.Album, 0, len(items))
	for i, m := range items {
		capt := ""
		if i == 0 && !overflow {
			capt = caption
		}
		switch m.Kind {
		case transport.MediaPhoto:
			album = append(album, &tele.Photo{File: tele.FromDisk(m.Path), Caption: capt})
		case transport.MediaVideo:
			album = append(album, &tele.Video{File: tele.FromDisk(m.Path), Caption: capt, FileName: m.FileName})
		default:
			album = append(album, &tele.Document{File: tele.FromDisk(m.Path), Caption: capt, FileName: m.FileName})
		}
	}
	msgs, err := c.bot.SendAlbum(chatRef(chat), album, sendOptions(opt, false))
	if err != nil {
		return transport.Receipt{}, classify("sendMediaGroup", err)
	}
	rc := transport.Receipt{MessageIDs: make([]int, 0, len(msgs))}
	for _, m := range msgs {
		rc.MessageIDs = append(rc.MessageIDs, m.ID)
	}
	if overflow {
		more, err := c.SendText(ctx, chat, caption, opt)
		rc.MessageIDs = append(rc.MessageIDs, more.MessageIDs...)
		if err != nil {
			return rc, err
		}
	}
	return rc, nil
}

func (c *Client) DeleteMessage(ctx context.Context, chat string, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Raw("deleteMessage", map[string]any{
		"chat_id":    chat,
		"message_id": messageID,
	})
	return classify("deleteMessage", err)
}

func (c *Client) GetChat(ctx context.Context, chat string) (transport.ChatInfo, error) {
	if err := ctx.Err(); err != nil {
		return transport.ChatInfo{}, err
	}
	ch, err := c.bot.ChatByUsername(chat)
	if err != nil {
		return transport.ChatInfo{}, classify("getChat", err)
	}
	return transport.ChatInfo{ID: ch.ID, Type: string(ch.Type), Title: ch.Title, Username: ch.Username}, nil
}

func (c *Client) GetChatMember(ctx context.Context, chat string, userID int64) (transport.MemberInfo, error) {
	if err := ctx.Err(); err != nil {
		return transport.MemberInfo{}, err
	}
	m, err := c.bot.ChatMemberOf(chatRef(chat), &tele.User{ID: userID})
	if err != nil {
		return transport.MemberInfo{}, classify("getChatMember", err)
	}
	info := transport.MemberInfo{Status: string(m.Role)}
	switch m.Role {
	case tele.Creator:
		info.IsAdminLike, info.CanPost, info.CanDelete = true, true, true
	case tele.Administrator:
		info.IsAdminLike = true
		info.CanPost = m.Rights.CanPostMessages
		info.CanDelete = m.Rights.CanDeleteMessages
	}
	return info, nil
}

func (c *Client) GetMe(ctx context.Context) (transport.BotInfo, error) {
	if err := ctx.Err(); err != nil {
		return transport.BotInfo{}, err
	}
	data, err := c.bot.Raw("getMe", map[string]any{})
	if err != nil {
		return transport.BotInfo{}, classify("getMe", err)
	}
	var resp struct {
		Result struct {
			ID        int64  `json:"id"`
			Username  string `json:"username"`
			FirstName string `json:"first_name"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return transport.BotInfo{}, &transport.Error{Kind: transport.KindTransient, Op: "getMe", Err: err}
	}
	return transport.BotInfo{ID: resp.Result.ID, Username: resp.Result.Username, Name: resp.Result.FirstName}, nil
}

var retryAfterRe = regexp.MustCompile(`retry after (\d+)`)

// classify maps telebot and network errors onto transport.Error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "too many requests") || strings.Contains(msg, "retry after") {
		out := &transport.Error{Kind: transport.KindTransient, Op: op, Code: http.StatusTooManyRequests, Err: err}
		if m := retryAfterRe.FindStringSubmatch(msg); len(m) == 2 {
			if n, convErr := strconv.Atoi(m[1]); convErr == nil {
				out.RetryAfter = time.Duration(n) * time.Second
			}
		}
		return out
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		kind := transport.KindRejected
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			kind = transport.KindConfiguration
		case apiErr.Code >= 500:
			kind = transport.KindTransient
		}
		return &transport.Error{Kind: kind, Op: op, Code: apiErr.Code, Err: err}
	}
	if code, ok := apiCode(msg); ok {
		kind := transport.KindRejected
		if code >= 500 {
			kind = transport.KindTransient
		} else if code == http.StatusUnauthorized {
			kind = transport.KindConfiguration
		}
		return &transport.Error{Kind: kind, Op: op, Code: code, Err: err}
	}
	return &transport.Error{Kind: transport.KindTransient, Op: op, Err: err}
}

var apiCodeRe = regexp.MustCompile(`telegram: .*\((\d{3})\)$`)

// apiCode extracts the trailing "(400)" telebot appends to unmapped API errors.
func apiCode(msg string) (int, bool) {
	m := apiCodeRe.FindStringSubmatch(msg)
	if len(m) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
