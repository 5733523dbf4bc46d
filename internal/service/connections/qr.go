package connections

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"

	"github.com/mamadbah2/wacrm/internal/domain/models"
)

// RenderDataURL encodes a raw pairing code as a PNG data URL.
func RenderDataURL(code string) (string, error) {
	if code == "" {
		return "", ErrQRRequired
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return dataurl.New(png, "image/png").String(), nil
}

// IdentityFromJID builds the paired account identity. The phone is the user
// part of the JID without the device suffix, e.g. 5511999999999:12@s.whatsapp.net.
func IdentityFromJID(jid, name, phone string) *models.WhatsAppIdentity {
	if jid == "" && name == "" && phone == "" {
		return nil
	}
	if phone == "" && jid != "" {
		user := jid
		if at := strings.IndexByte(user, '@'); at >= 0 {
			user = user[:at]
		}
		if colon := strings.IndexByte(user, ':'); colon >= 0 {
			user = user[:colon]
		}
		phone = user
	}
	return &models.WhatsAppIdentity{Name: name, Phone: phone, WhatsAppID: jid}
}
