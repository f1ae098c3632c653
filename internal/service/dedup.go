package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
)

// Reasons reported when an event is skipped as a duplicate.
const (
	ReasonEmailMessageID    = "email_message_id"
	ReasonInternetMessageID = "internet_message_id"
	ReasonWhatsAppMessageID = "whatsapp_message_id"
	ReasonSourceRef         = "source_ref"
	reasonWhatsAppThread    = "whatsapp_thread"
	reasonEmailThread       = "email_thread"
)

// naturalKey hashes a namespaced identifier into the stored key. Only the
// hash is persisted, so provider ids of any length fit the index.
func naturalKey(namespace, value string) string {
	sum := sha256.Sum256([]byte(namespace + "\x00" + strings.TrimSpace(value)))
	return namespace + ":" + hex.EncodeToString(sum[:16])
}

// keySet maps stored keys back to the reason reported on a collision.
type keySet struct {
	keys    repository.NaturalKeys
	reasons map[string]string
}

func (k *keySet) unique(namespace, value, reason string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	key := naturalKey(namespace, value)
	k.keys.Unique = append(k.keys.Unique, key)
	k.reasons[key] = reason
}

func (k *keySet) reason(key string) string {
	if r, ok := k.reasons[key]; ok {
		return r
	}
	return "natural_key"
}

func newKeySet() *keySet {
	return &keySet{reasons: map[string]string{}}
}

// conversationKeys derives identity keys for a new conversation. Email
// events are identified by their provider ids, imports by their source
// reference. A WhatsApp number and an email provider thread each own a
// single conversation. Thread keys come last so a redelivered event is
// reported as a duplicate rather than routed into its thread.
func conversationKeys(event InboundEvent) *keySet {
	ks := newKeySet()
	if event.Channel == domain.ChannelEmail {
		ks.unique("conv:email-id", event.Meta.EmailMessageID, ReasonEmailMessageID)
		ks.unique("conv:internet-id", event.Meta.InternetMessageID, ReasonInternetMessageID)
	}
	if event.SourceRef != nil && event.SourceRef.ID != "" {
		ks.unique("conv:source", event.SourceRef.Type+"/"+event.SourceRef.ID, ReasonSourceRef)
	}
	switch event.Channel {
	case domain.ChannelEmail:
		ks.unique("thread:email", event.Meta.EmailThreadID, reasonEmailThread)
	case domain.ChannelWhatsApp:
		ks.unique("thread:whatsapp", whatsappThread(event), reasonWhatsAppThread)
	}
	return ks
}

// messageKeys derives identity keys for a message from its channel-native ids.
func messageKeys(keys domain.MessageKeys) *keySet {
	ks := newKeySet()
	ks.unique("msg:email-id", keys.EmailMessageID, ReasonEmailMessageID)
	ks.unique("msg:internet-id", keys.InternetMessageID, ReasonInternetMessageID)
	ks.unique("msg:whatsapp-id", keys.WhatsAppMessageID, ReasonWhatsAppMessageID)
	return ks
}

// threadKey is the key that routes a follow-up event to an existing thread.
func threadKey(event InboundEvent) string {
	switch event.Channel {
	case domain.ChannelEmail:
		if event.Meta.EmailThreadID != "" {
			return naturalKey("thread:email", event.Meta.EmailThreadID)
		}
	case domain.ChannelWhatsApp:
		if phone := whatsappThread(event); phone != "" {
			return naturalKey("thread:whatsapp", phone)
		}
	}
	return ""
}

func whatsappThread(event InboundEvent) string {
	return domain.NormalizePhone(firstNonEmpty(event.Meta.WhatsAppPhone, event.Sender.Phone))
}
