package normalizer

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/domain/models"
)

// Mapper turns transport envelopes into MessageRow records.
type Mapper struct {
	logger *zap.Logger
}

// NewMapper builds a mapper that reports classification gaps on logger.
func NewMapper(logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{logger: logger}
}

// Normalize runs the full pipeline on a single envelope.
func (m *Mapper) Normalize(env models.Envelope, chatID, connectionID, ownerID string) models.MessageRow {
	return m.MapToRow(env, Resolve(Unwrap(env["message"])), chatID, connectionID, ownerID)
}

// MapToRow builds the persistence row for env from its resolved content.
// chatID is only used when the envelope key carries no remoteJid.
func (m *Mapper) MapToRow(env models.Envelope, content models.ResolvedContent, chatID, connectionID, ownerID string) models.MessageRow {
	key := object(env, "key")
	fromMe := truthy(key, "fromMe")

	row := models.MessageRow{
		OwnerID:      ownerID,
		ConnectionID: connectionID,
		ChatID:       resolveChatID(key, chatID),
		MessageType:  models.TypeTexto,
		Remetente:    senderFor(fromMe),
		Timestamp:    EpochSecondsToISO(env["messageTimestamp"]),
		MessageID:    optString(key, "id"),
		Raw: models.RawRecord{
			Key: models.RawKey{
				RemoteJID: optValue(key, "remoteJid"),
				ID:        optValue(key, "id"),
				FromMe:    fromMe,
			},
			MessageTimestamp: env["messageTimestamp"],
			Message:          env["message"],
		},
	}

	messageType, known := MessageTypeFor(content.ContentKind())
	row.MessageType = messageType
	if !known {
		m.logger.Warn("content kind has no message type",
			zap.String("kind", string(content.ContentKind())),
			zap.String("connection_id", connectionID),
			zap.Stringp("message_id", row.MessageID))
	}

	switch c := content.(type) {
	case models.TextContent:
		row.Conteudo = c.Text
	case models.MediaContent:
		applyMedia(&row, c)
	case models.LocationContent:
		if c.Name != nil && *c.Name != "" {
			row.Conteudo = fmt.Sprintf("%s (%s, %s)", *c.Name, formatNumber(c.Lat), formatNumber(c.Lng))
		} else {
			row.Conteudo = fmt.Sprintf("Localização: %s, %s", formatNumber(c.Lat), formatNumber(c.Lng))
		}
	case models.ReplyContent:
		row.Conteudo = firstNonEmpty(c.Text, c.ID, replyFallback(c.Kind))
	case models.ReactionContent:
		row.Conteudo = orDefault(c.Text, "👍")
	case models.NoticeContent:
		row.Conteudo = orDefault(c.Text, noticeFallback(c.Kind))
	case models.UnknownContent:
		rawType := "desconhecido"
		if c.RawType != nil {
			rawType = *c.RawType
		}
		row.Conteudo = fmt.Sprintf("[Tipo não suportado: %s]", rawType)
		m.logger.Warn("unsupported message content",
			zap.Stringp("raw_type", c.RawType),
			zap.Strings("fields", c.Fields),
			zap.String("connection_id", connectionID),
			zap.Stringp("chat_id", row.ChatID),
			zap.Stringp("message_id", row.MessageID))
	default:
		row.Conteudo = "[Mensagem desconhecida]"
	}

	if !known && row.Conteudo == "" {
		row.Conteudo = "[Mensagem desconhecida]"
	}

	return row
}

// MessageTypeFor maps a content kind to its message_type tag. The boolean is
// false only for kinds this mapper has no branch for, which indicates the
// resolver grew a kind the mapper was not taught about.
func MessageTypeFor(kind models.ContentKind) (models.MessageType, bool) {
	switch kind {
	case models.KindText:
		return models.TypeTexto, true
	case models.KindImage:
		return models.TypeImagem, true
	case models.KindVideo:
		return models.TypeVideo, true
	case models.KindAudio:
		return models.TypeAudio, true
	case models.KindSticker:
		return models.TypeSticker, true
	case models.KindFile:
		return models.TypeArquivo, true
	case models.KindLocation:
		return models.TypeLocalizacao, true
	case models.KindButtonReply:
		return models.TypeRespostaBotao, true
	case models.KindListReply, models.KindListResponse:
		return models.TypeRespostaLista, true
	case models.KindTemplateReply:
		return models.TypeRespostaTemplate, true
	case models.KindReaction:
		return models.TypeReacao, true
	case models.KindContact:
		return models.TypeContato, true
	case models.KindContacts:
		return models.TypeContatos, true
	case models.KindGroupInvite:
		return models.TypeConviteGrupo, true
	case models.KindLiveLocation:
		return models.TypeLocalizacaoTempoReal, true
	case models.KindPoll:
		return models.TypeEnquete, true
	case models.KindPollUpdate:
		return models.TypeAtualizacaoEnquete, true
	case models.KindRequestPhone:
		return models.TypeSolicitacaoTelefone, true
	case models.KindRequestPay:
		return models.TypeSolicitacaoPagamento, true
	case models.KindSendPayment:
		return models.TypePagamentoEnviado, true
	case models.KindSecurity:
		return models.TypeSeguranca, true
	case models.KindStatus:
		return models.TypeStatus, true
	case models.KindTemplate:
		return models.TypeTemplate, true
	case models.KindList:
		return models.TypeLista, true
	case models.KindProtocol:
		return models.TypeProtocolo, true
	case models.KindContext:
		return models.TypeContexto, true
	case models.KindUnknown:
		return models.TypeDesconhecido, true
	default:
		return models.TypeDesconhecido, false
	}
}

func applyMedia(row *models.MessageRow, c models.MediaContent) {
	var fallbackMime, fallbackText string
	switch c.Kind {
	case models.KindImage:
		fallbackMime, fallbackText = "image/jpeg", "[Imagem]"
	case models.KindVideo:
		fallbackMime, fallbackText = "video/mp4", "[Vídeo]"
	case models.KindAudio:
		fallbackMime, fallbackText = "audio/ogg", "[Áudio]"
	case models.KindSticker:
		fallbackMime, fallbackText = "image/webp", "[Sticker]"
	default:
		fallbackMime, fallbackText = "application/octet-stream", "[Arquivo]"
	}

	mime := orDefault(c.Mimetype, fallbackMime)
	row.MediaType = &mime
	row.MediaMime = &mime
	if c.URL != nil && *c.URL != "" {
		row.MediaURL = c.URL
	}

	switch c.Kind {
	case models.KindImage, models.KindVideo:
		row.Conteudo = firstNonEmpty(c.Caption, nil, fallbackText)
	case models.KindFile:
		row.Conteudo = firstNonEmpty(c.FileName, nil, fallbackText)
	case models.KindAudio:
		row.Conteudo = fallbackText
		var seconds float64
		if c.Seconds != nil {
			seconds = *c.Seconds
		}
		duration := int64(math.Round(seconds * 1000))
		row.DurationMS = &duration
	default:
		row.Conteudo = fallbackText
	}
}

func replyFallback(kind models.ContentKind) string {
	switch kind {
	case models.KindButtonReply:
		return "[Resposta de Botão]"
	case models.KindListReply:
		return "[Resposta de Lista]"
	default:
		return "[Resposta de Template]"
	}
}

func noticeFallback(kind models.ContentKind) string {
	switch kind {
	case models.KindContact:
		return "[Contato compartilhado]"
	case models.KindContacts:
		return "[Contatos compartilhados]"
	case models.KindGroupInvite:
		return "[Convite para grupo]"
	case models.KindLiveLocation:
		return "[Localização em tempo real]"
	case models.KindPoll:
		return "[Enquete]"
	case models.KindPollUpdate:
		return "[Atualização de enquete]"
	case models.KindRequestPhone:
		return "[Solicitação de telefone]"
	case models.KindRequestPay:
		return "[Solicitação de pagamento]"
	case models.KindSendPayment:
		return "[Pagamento enviado]"
	case models.KindSecurity:
		return "[Mensagem de segurança]"
	case models.KindStatus:
		return "[Status atualizado]"
	case models.KindTemplate:
		return "[Mensagem de template]"
	case models.KindList:
		return "[Lista de opções]"
	case models.KindListResponse:
		return "[Seleção da lista]"
	case models.KindProtocol:
		return "[Mensagem de protocolo]"
	case models.KindContext:
		return "[Informação de contexto]"
	default:
		return "[Mensagem desconhecida]"
	}
}

func resolveChatID(key map[string]any, fallback string) *string {
	if jid := optString(key, "remoteJid"); jid != nil && *jid != "" {
		return jid
	}
	if fallback != "" {
		return &fallback
	}
	return nil
}

func senderFor(fromMe bool) models.Sender {
	if fromMe {
		return models.SenderAttendant
	}
	return models.SenderClient
}

func firstNonEmpty(primary, secondary *string, fallback string) string {
	if primary != nil && *primary != "" {
		return *primary
	}
	if secondary != nil && *secondary != "" {
		return *secondary
	}
	return fallback
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
