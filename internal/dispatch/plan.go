package dispatch

import (
	"tgcast/internal/attachments"
	"tgcast/internal/domain"
	"tgcast/internal/transport"
)

// SendKind is a provider operation.
type SendKind string

const (
	SendText       SendKind = "text"
	SendPhoto      SendKind = "photo"
	SendVideo      SendKind = "video"
	SendDocument   SendKind = "document"
	SendMediaGroup SendKind = "media_group"
)

// albumLimit is the provider's maximum media group size.
const albumLimit = 10

// Send is one upload of a plan.
type Send struct {
	Kind  SendKind
	Media []transport.Media
}

// Plan is the attachment shape shared by every destination of one dispatch.
// The zero Plan is a text-only post.
type Plan struct {
	Sends []Send
}

// PlanFor buckets resolved attachments into images, videos and documents.
// Two or more images and videos travel together as a media group with the
// caption on the first item. Documents never share an album with them and go
// as a group of their own. A lone file uses the method for its class.
func PlanFor(atts []attachments.Resolved) Plan {
	var visual, docs []transport.Media
	for _, a := range atts {
		m := transport.Media{Kind: transport.KindFor(a.Class), Path: a.AbsPath, FileName: a.Name}
		if m.Kind == transport.MediaDocument {
			docs = append(docs, m)
		} else {
			visual = append(visual, m)
		}
	}
	var p Plan
	p.Sends = append(p.Sends, group(visual)...)
	p.Sends = append(p.Sends, group(docs)...)
	return p
}

func group(media []transport.Media) []Send {
	var out []Send
	for len(media) > 0 {
		n := min(len(media), albumLimit)
		chunk := media[:n:n]
		media = media[n:]
		if n == 1 {
			out = append(out, Send{Kind: single(chunk[0].Kind), Media: chunk})
			continue
		}
		out = append(out, Send{Kind: SendMediaGroup, Media: chunk})
	}
	return out
}

func single(k transport.MediaKind) SendKind {
	switch k {
	case transport.MediaPhoto:
		return SendPhoto
	case transport.MediaVideo:
		return SendVideo
	default:
		return SendDocument
	}
}

// Kind is the first operation of the plan, used for metrics and logs.
func (p Plan) Kind() SendKind {
	if len(p.Sends) == 0 {
		return SendText
	}
	return p.Sends[0].Kind
}

// HasMedia reports whether the plan uploads files.
func (p Plan) HasMedia() bool { return len(p.Sends) > 0 }

// Step is one provider call of a delivery.
type Step struct {
	Kind    SendKind
	Media   []transport.Media
	Text    string // message body for SendText, caption otherwise
	Buttons bool
}

// Steps expands the plan for one post body. Text over the provider limit
// becomes several text steps. A caption over the caption limit is sent after
// the uploads as text. Buttons ride on the last step.
func (p Plan) Steps(text string, f domain.Format) []Step {
	steps := make([]Step, 0, len(p.Sends)+1)
	body := text
	for i, s := range p.Sends {
		st := Step{Kind: s.Kind, Media: s.Media}
		if i == 0 && len([]rune(text)) <= transport.CaptionLimit {
			st.Text, body = text, ""
		}
		steps = append(steps, st)
	}
	if len(p.Sends) == 0 || body != "" {
		for _, chunk := range transport.SplitText(body, transport.TextLimit, f) {
			steps = append(steps, Step{Kind: SendText, Text: chunk})
		}
	}
	steps[len(steps)-1].Buttons = true
	return steps
}
