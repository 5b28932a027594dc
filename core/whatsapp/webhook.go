package whatsapp

// Webhook notification shapes for the Cloud API. Only the fields the bot
// consumes are modeled.

// Notification is the top-level webhook body Meta delivers.
type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one WhatsApp Business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update inside an entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries inbound messages and delivery statuses.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

// Metadata identifies the receiving business phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Message is one inbound user message.
type Message struct {
	From        string            `json:"from"`
	ID          string            `json:"id"`
	Timestamp   string            `json:"timestamp"`
	Type        string            `json:"type"`
	Text        *Text             `json:"text,omitempty"`
	Interactive *InteractiveReply `json:"interactive,omitempty"`
}

// Text is the body of a plain text message.
type Text struct {
	Body string `json:"body"`
}

// InteractiveReply is the user's response to a button or list message.
type InteractiveReply struct {
	Type        string    `json:"type"`
	ButtonReply *ReplyRef `json:"button_reply,omitempty"`
	ListReply   *ReplyRef `json:"list_reply,omitempty"`
}

// ReplyRef identifies the selected option.
type ReplyRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Status is a delivery receipt for a previously sent message.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Inbound is the normalized event handed to the router: the sender, the
// business phone number it arrived on, and exactly one message form.
type Inbound struct {
	From          string
	ChannelID     string
	Text          string
	ButtonReplyID string
	ListReplyID   string
}

// IsInteractive reports whether the message is a button or list reply.
func (i Inbound) IsInteractive() bool {
	return i.ButtonReplyID != "" || i.ListReplyID != ""
}

// InboundMessages flattens a notification into normalized inbound events.
// Statuses and unsupported message types are not included.
func (n *Notification) InboundMessages() []Inbound {
	var out []Inbound
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			channelID := change.Value.Metadata.PhoneNumberID
			for _, msg := range change.Value.Messages {
				in := Inbound{From: msg.From, ChannelID: channelID}
				switch {
				case msg.Text != nil:
					in.Text = msg.Text.Body
				case msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
					in.ButtonReplyID = msg.Interactive.ButtonReply.ID
				case msg.Interactive != nil && msg.Interactive.ListReply != nil:
					in.ListReplyID = msg.Interactive.ListReply.ID
				}
				out = append(out, in)
			}
		}
	}
	return out
}

// DeliveryStatuses flattens all delivery receipts in a notification.
func (n *Notification) DeliveryStatuses() []Status {
	var out []Status
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			out = append(out, change.Value.Statuses...)
		}
	}
	return out
}
