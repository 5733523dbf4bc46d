package normalizer

import (
	"fmt"
	"sort"

	"github.com/mamadbah2/wacrm/internal/domain/models"
)

// rule pairs a presence predicate with the extractor for one content kind.
type rule struct {
	kind    models.ContentKind
	match   func(m map[string]any) bool
	extract func(m map[string]any) models.ResolvedContent
}

// has builds the common predicate "field is present and truthy".
func has(field string) func(map[string]any) bool {
	return func(m map[string]any) bool { return truthy(m, field) }
}

// rules is evaluated top to bottom and the first match wins. Adding a kind
// means inserting one entry at the position that reflects its priority.
var rules = []rule{
	{models.KindText, has("conversation"), func(m map[string]any) models.ResolvedContent {
		return models.TextContent{Kind: models.KindText, Text: stringOr(m, "conversation", "")}
	}},
	{models.KindText, func(m map[string]any) bool { return truthy(object(m, "extendedTextMessage"), "text") }, func(m map[string]any) models.ResolvedContent {
		return models.TextContent{Kind: models.KindText, Text: stringOr(object(m, "extendedTextMessage"), "text", "")}
	}},
	{models.KindImage, has("imageMessage"), func(m map[string]any) models.ResolvedContent {
		img := object(m, "imageMessage")
		c := mediaFields(models.KindImage, img, "image/jpeg")
		c.Caption = optString(img, "caption")
		return c
	}},
	{models.KindVideo, has("videoMessage"), func(m map[string]any) models.ResolvedContent {
		vid := object(m, "videoMessage")
		c := mediaFields(models.KindVideo, vid, "video/mp4")
		c.Caption = optString(vid, "caption")
		seconds := numberOrZero(optValue(vid, "seconds"))
		c.Seconds = &seconds
		return c
	}},
	{models.KindAudio, has("audioMessage"), func(m map[string]any) models.ResolvedContent {
		aud := object(m, "audioMessage")
		c := mediaFields(models.KindAudio, aud, "audio/ogg")
		seconds := numberOrZero(optValue(aud, "seconds"))
		ptt := truthy(aud, "ptt")
		c.Seconds = &seconds
		c.PTT = &ptt
		return c
	}},
	{models.KindSticker, has("stickerMessage"), func(m map[string]any) models.ResolvedContent {
		return mediaFields(models.KindSticker, object(m, "stickerMessage"), "image/webp")
	}},
	{models.KindFile, has("documentMessage"), func(m map[string]any) models.ResolvedContent {
		doc := object(m, "documentMessage")
		c := mediaFields(models.KindFile, doc, "application/octet-stream")
		name := stringOr(doc, "fileName", "documento")
		c.FileName = &name
		return c
	}},
	{models.KindLocation, has("locationMessage"), func(m map[string]any) models.ResolvedContent {
		loc := object(m, "locationMessage")
		return models.LocationContent{
			Kind: models.KindLocation,
			Lat:  numberOrZero(optValue(loc, "degreesLatitude")),
			Lng:  numberOrZero(optValue(loc, "degreesLongitude")),
			Name: optString(loc, "name"),
		}
	}},
	{models.KindButtonReply, has("buttonsResponseMessage"), func(m map[string]any) models.ResolvedContent {
		b := object(m, "buttonsResponseMessage")
		return models.ReplyContent{Kind: models.KindButtonReply, ID: optString(b, "selectedButtonId"), Text: optString(b, "selectedDisplayText")}
	}},
	{models.KindListReply, has("listResponseMessage"), func(m map[string]any) models.ResolvedContent {
		l := object(m, "listResponseMessage")
		return models.ReplyContent{Kind: models.KindListReply, ID: optString(object(l, "singleSelect"), "selectedRowId"), Text: optString(l, "title")}
	}},
	{models.KindTemplateReply, has("templateButtonReplyMessage"), func(m map[string]any) models.ResolvedContent {
		t := object(m, "templateButtonReplyMessage")
		return models.ReplyContent{Kind: models.KindTemplateReply, ID: optString(t, "selectedId"), Text: optString(t, "selectedDisplayText")}
	}},
	{models.KindReaction, has("reactionMessage"), func(m map[string]any) models.ResolvedContent {
		r := object(m, "reactionMessage")
		target := optString(object(r, "targetMessageKey"), "id")
		if target == nil {
			target = optString(object(r, "key"), "id")
		}
		return models.ReactionContent{
			Kind:            models.KindReaction,
			Text:            stringOr(r, "text", "👍"),
			TargetMessageID: target,
		}
	}},
	{models.KindContact, has("contactMessage"), func(m map[string]any) models.ResolvedContent {
		name := stringOr(object(m, "contactMessage"), "displayName", "Contato compartilhado")
		return notice(models.KindContact, "Contato: "+name)
	}},
	{models.KindContacts, has("contactsArrayMessage"), func(m map[string]any) models.ResolvedContent {
		contacts, _ := object(m, "contactsArrayMessage")["contacts"].([]any)
		return notice(models.KindContacts, fmt.Sprintf("Contatos: %d contatos compartilhados", len(contacts)))
	}},
	{models.KindGroupInvite, has("groupInviteMessage"), func(m map[string]any) models.ResolvedContent {
		return notice(models.KindGroupInvite, "Convite para grupo: "+stringOr(object(m, "groupInviteMessage"), "groupName", "Grupo"))
	}},
	{models.KindLiveLocation, has("liveLocationMessage"), constNotice(models.KindLiveLocation, "Localização em tempo real compartilhada")},
	{models.KindPoll, has("pollCreationMessage"), func(m map[string]any) models.ResolvedContent {
		return notice(models.KindPoll, "Enquete: "+stringOr(object(m, "pollCreationMessage"), "name", "Enquete"))
	}},
	{models.KindPollUpdate, has("pollUpdateMessage"), constNotice(models.KindPollUpdate, "Atualização de enquete")},
	{models.KindRequestPhone, has("requestPhoneNumberMessage"), constNotice(models.KindRequestPhone, "Solicitação de número de telefone")},
	{models.KindRequestPay, has("requestPaymentMessage"), constNotice(models.KindRequestPay, "Solicitação de pagamento")},
	{models.KindSendPayment, has("sendPaymentMessage"), constNotice(models.KindSendPayment, "Pagamento enviado")},
	{models.KindSecurity, has("senderKeyDistributionMessage"), constNotice(models.KindSecurity, "Mensagem de segurança")},
	{models.KindStatus, has("statusMessage"), constNotice(models.KindStatus, "Status atualizado")},
	{models.KindTemplate, has("templateMessage"), func(m map[string]any) models.ResolvedContent {
		hydrated := object(object(m, "templateMessage"), "hydratedTemplate")
		switch {
		case truthy(hydrated, "hydratedContentText"):
			return notice(models.KindTemplate, stringOr(hydrated, "hydratedContentText", ""))
		case truthy(hydrated, "hydratedTitleText"):
			return notice(models.KindTemplate, stringOr(hydrated, "hydratedTitleText", ""))
		}
		return notice(models.KindTemplate, "[Mensagem de template]")
	}},
	{models.KindList, has("listMessage"), func(m map[string]any) models.ResolvedContent {
		return notice(models.KindList, "Lista: "+stringOr(object(m, "listMessage"), "description", "Lista de opções"))
	}},
	// Shadowed by the LIST_REPLY rule above; kept so the chain order matches
	// the transport's documented kinds.
	{models.KindListResponse, has("listResponseMessage"), func(m map[string]any) models.ResolvedContent {
		reply := object(object(m, "listResponseMessage"), "singleSelectReply")
		return notice(models.KindListResponse, "Seleção: "+stringOr(reply, "selectedRowId", "Opção selecionada"))
	}},
	{models.KindProtocol, has("protocolMessage"), constNotice(models.KindProtocol, "[Mensagem de protocolo]")},
	{models.KindContext, has("messageContextInfo"), constNotice(models.KindContext, "[Informação de contexto]")},
}

// Resolve classifies an unwrapped payload into exactly one content kind. It
// has no side effects; payloads matching no rule resolve to UNKNOWN.
func Resolve(m map[string]any) models.ResolvedContent {
	for _, r := range rules {
		if r.match(m) {
			return r.extract(m)
		}
	}
	return unknown(m)
}

func unknown(m map[string]any) models.UnknownContent {
	fields := make([]string, 0, len(m))
	for key := range m {
		fields = append(fields, key)
	}
	sort.Strings(fields)

	var rawType *string
	if len(fields) > 0 {
		rawType = &fields[0]
	}

	return models.UnknownContent{Kind: models.KindUnknown, RawType: rawType, Fields: fields}
}

func mediaFields(kind models.ContentKind, m map[string]any, defaultMime string) models.MediaContent {
	return models.MediaContent{
		Kind:       kind,
		Mimetype:   stringOr(m, "mimetype", defaultMime),
		URL:        optString(m, "url"),
		MediaKey:   optValue(m, "mediaKey"),
		FileLength: optValue(m, "fileLength"),
		FileSHA256: optValue(m, "fileSha256"),
		DirectPath: optString(m, "directPath"),
	}
}

func notice(kind models.ContentKind, text string) models.NoticeContent {
	return models.NoticeContent{Kind: kind, Text: text}
}

func constNotice(kind models.ContentKind, text string) func(map[string]any) models.ResolvedContent {
	return func(map[string]any) models.ResolvedContent { return notice(kind, text) }
}
