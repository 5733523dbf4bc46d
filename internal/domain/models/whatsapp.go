package models

// Envelope is a message exactly as emitted by the WhatsApp transport: the
// message key, messageTimestamp, the nested message payload and whatever else
// the transport attaches. It is an untyped external contract and is never
// mutated by the normalization pipeline.
type Envelope map[string]any

// ContentKind is the closed set of semantic content kinds a message payload
// resolves to.
type ContentKind string

const (
	KindText          ContentKind = "TEXT"
	KindImage         ContentKind = "IMAGE"
	KindVideo         ContentKind = "VIDEO"
	KindAudio         ContentKind = "AUDIO"
	KindSticker       ContentKind = "STICKER"
	KindFile          ContentKind = "FILE"
	KindLocation      ContentKind = "LOCATION"
	KindButtonReply   ContentKind = "BUTTON_REPLY"
	KindListReply     ContentKind = "LIST_REPLY"
	KindTemplateReply ContentKind = "TEMPLATE_REPLY"
	KindReaction      ContentKind = "REACTION"
	KindContact       ContentKind = "CONTACT"
	KindContacts      ContentKind = "CONTACTS"
	KindGroupInvite   ContentKind = "GROUP_INVITE"
	KindLiveLocation  ContentKind = "LIVE_LOCATION"
	KindPoll          ContentKind = "POLL"
	KindPollUpdate    ContentKind = "POLL_UPDATE"
	KindRequestPhone  ContentKind = "REQUEST_PHONE"
	KindRequestPay    ContentKind = "REQUEST_PAYMENT"
	KindSendPayment   ContentKind = "SEND_PAYMENT"
	KindSecurity      ContentKind = "SECURITY"
	KindStatus        ContentKind = "STATUS"
	KindTemplate      ContentKind = "TEMPLATE"
	KindList          ContentKind = "LIST"
	KindListResponse  ContentKind = "LIST_RESPONSE"
	KindProtocol      ContentKind = "PROTOCOL"
	KindContext       ContentKind = "CONTEXT"
	KindUnknown       ContentKind = "UNKNOWN"
)

// ResolvedContent is the result of classifying an unwrapped message payload.
// The set of implementations is closed to this package.
type ResolvedContent interface {
	ContentKind() ContentKind
	resolved()
}

// TextContent carries plain and extended text messages.
type TextContent struct {
	Kind ContentKind `json:"kind"`
	Text string      `json:"text"`
}

// MediaContent carries image, video, audio, sticker and document payloads.
// Fields that do not apply to a kind stay nil.
type MediaContent struct {
	Kind       ContentKind `json:"kind"`
	Caption    *string     `json:"caption"`
	Mimetype   string      `json:"mimetype"`
	URL        *string     `json:"url"`
	MediaKey   any         `json:"mediaKey"`
	FileLength any         `json:"fileLength"`
	FileSHA256 any         `json:"fileSha256"`
	DirectPath *string     `json:"directPath"`
	Seconds    *float64    `json:"seconds"`
	PTT        *bool       `json:"ptt"`
	FileName   *string     `json:"fileName"`
}

// LocationContent carries a static location pin.
type LocationContent struct {
	Kind ContentKind `json:"kind"`
	Lat  float64     `json:"lat"`
	Lng  float64     `json:"lng"`
	Name *string     `json:"name"`
}

// ReplyContent carries button, list and template replies.
type ReplyContent struct {
	Kind ContentKind `json:"kind"`
	ID   *string     `json:"id"`
	Text *string     `json:"text"`
}

// ReactionContent carries an emoji reaction to another message.
type ReactionContent struct {
	Kind            ContentKind `json:"kind"`
	Text            string      `json:"text"`
	TargetMessageID *string     `json:"targetMessageId"`
}

// NoticeContent carries the business, social and protocol kinds that are
// only ever displayed as a descriptive line.
type NoticeContent struct {
	Kind ContentKind `json:"kind"`
	Text string      `json:"text"`
}

// UnknownContent is produced when no rule matches. Fields lists the keys of
// the unwrapped payload so a new rule can be written from the log line alone.
type UnknownContent struct {
	Kind    ContentKind `json:"kind"`
	RawType *string     `json:"rawType"`
	Fields  []string    `json:"debug"`
}

func (c TextContent) ContentKind() ContentKind     { return c.Kind }
func (c MediaContent) ContentKind() ContentKind    { return c.Kind }
func (c LocationContent) ContentKind() ContentKind { return c.Kind }
func (c ReplyContent) ContentKind() ContentKind    { return c.Kind }
func (c ReactionContent) ContentKind() ContentKind { return c.Kind }
func (c NoticeContent) ContentKind() ContentKind   { return c.Kind }
func (c UnknownContent) ContentKind() ContentKind  { return c.Kind }

func (TextContent) resolved()     {}
func (MediaContent) resolved()    {}
func (LocationContent) resolved() {}
func (ReplyContent) resolved()    {}
func (ReactionContent) resolved() {}
func (NoticeContent) resolved()   {}
func (UnknownContent) resolved()  {}
