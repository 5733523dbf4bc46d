package models

import "errors"

// ErrDuplicateMessage is returned by message stores for a message id that is
// already stored for the connection.
var ErrDuplicateMessage = errors.New("message already stored")

// MessageType is the closed tag stored in the message_type column.
type MessageType string

const (
	TypeTexto                MessageType = "TEXTO"
	TypeImagem               MessageType = "IMAGEM"
	TypeVideo                MessageType = "VIDEO"
	TypeAudio                MessageType = "AUDIO"
	TypeSticker              MessageType = "STICKER"
	TypeArquivo              MessageType = "ARQUIVO"
	TypeLocalizacao          MessageType = "LOCALIZACAO"
	TypeRespostaBotao        MessageType = "RESPOSTA_BOTAO"
	TypeRespostaLista        MessageType = "RESPOSTA_LISTA"
	TypeRespostaTemplate     MessageType = "RESPOSTA_TEMPLATE"
	TypeReacao               MessageType = "REACAO"
	TypeContato              MessageType = "CONTATO"
	TypeContatos             MessageType = "CONTATOS"
	TypeConviteGrupo         MessageType = "CONVITE_GRUPO"
	TypeLocalizacaoTempoReal MessageType = "LOCALIZACAO_TEMPO_REAL"
	TypeEnquete              MessageType = "ENQUETE"
	TypeAtualizacaoEnquete   MessageType = "ATUALIZACAO_ENQUETE"
	TypeSolicitacaoTelefone  MessageType = "SOLICITACAO_TELEFONE"
	TypeSolicitacaoPagamento MessageType = "SOLICITACAO_PAGAMENTO"
	TypePagamentoEnviado     MessageType = "PAGAMENTO_ENVIADO"
	TypeSeguranca            MessageType = "SEGURANCA"
	TypeStatus               MessageType = "STATUS"
	TypeTemplate             MessageType = "TEMPLATE"
	TypeLista                MessageType = "LISTA"
	TypeProtocolo            MessageType = "PROTOCOLO"
	TypeContexto             MessageType = "CONTEXTO"
	TypeDesconhecido         MessageType = "DESCONHECIDO"
)

// Sender identifies who authored a message from the CRM's point of view.
type Sender string

const (
	SenderAttendant Sender = "ATENDENTE"
	SenderClient    Sender = "CLIENTE"
)

// MessageRow is the persistence-ready shape of a single WhatsApp message.
type MessageRow struct {
	OwnerID          string      `bson:"owner_id" json:"owner_id"`
	ConnectionID     string      `bson:"connection_id" json:"connection_id"`
	ChatID           *string     `bson:"chat_id" json:"chat_id"`
	Conteudo         string      `bson:"conteudo" json:"conteudo"`
	MessageType      MessageType `bson:"message_type" json:"message_type"`
	MediaType        *string     `bson:"media_type" json:"media_type"`
	Remetente        Sender      `bson:"remetente" json:"remetente"`
	Timestamp        string      `bson:"timestamp" json:"timestamp"`
	Lida             bool        `bson:"lida" json:"lida"`
	MessageID        *string     `bson:"message_id" json:"message_id"`
	MediaURL         *string     `bson:"media_url" json:"media_url"`
	MediaMime        *string     `bson:"media_mime" json:"media_mime"`
	DurationMS       *int64      `bson:"duration_ms" json:"duration_ms"`
	WppName          *string     `bson:"wpp_name" json:"wpp_name"`
	GroupContactName *string     `bson:"group_contact_name" json:"group_contact_name"`
	Raw              RawRecord   `bson:"raw" json:"raw"`
}

// RawRecord is the identifying subset of the original envelope, kept
// verbatim for replay and debugging.
type RawRecord struct {
	Key              RawKey `bson:"key" json:"key"`
	MessageTimestamp any    `bson:"messageTimestamp" json:"messageTimestamp"`
	Message          any    `bson:"message" json:"message"`
}

// RawKey mirrors the transport message key.
type RawKey struct {
	RemoteJID any  `bson:"remoteJid" json:"remoteJid"`
	ID        any  `bson:"id" json:"id"`
	FromMe    bool `bson:"fromMe" json:"fromMe"`
}
