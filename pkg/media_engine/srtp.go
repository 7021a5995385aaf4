package media_engine

import (
	"encoding/base64"
	"fmt"

	"github.com/pion/srtp/v3"
)

// protectionProfile отображает имя SDES сьюта (RFC 4568) в профиль pion/srtp
func protectionProfile(suite string) (srtp.ProtectionProfile, error) {
	switch suite {
	case "AES_CM_128_HMAC_SHA1_80":
		return srtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case "AES_CM_128_HMAC_SHA1_32":
		return srtp.ProtectionProfileAes128CmHmacSha1_32, nil
	case "AEAD_AES_128_GCM":
		return srtp.ProtectionProfileAeadAes128Gcm, nil
	case "AEAD_AES_256_GCM":
		return srtp.ProtectionProfileAeadAes256Gcm, nil
	default:
		return 0, fmt.Errorf("неизвестный SDES сьют: %s", suite)
	}
}

// newSRTPContext строит контекст SRTP из inline ключа SDES: base64 конкатенации
// мастер-ключа и соли
func newSRTPContext(suite, inlineKey string) (*srtp.Context, error) {
	profile, err := protectionProfile(suite)
	if err != nil {
		return nil, err
	}
	keySalt, err := base64.StdEncoding.DecodeString(inlineKey)
	if err != nil {
		return nil, fmt.Errorf("декодирование inline ключа: %w", err)
	}
	keyLen, err := profile.KeyLen()
	if err != nil {
		return nil, err
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return nil, err
	}
	if len(keySalt) != keyLen+saltLen {
		return nil, fmt.Errorf("длина inline ключа %d не равна %d для сьюта %s",
			len(keySalt), keyLen+saltLen, suite)
	}
	ctx, err := srtp.CreateContext(keySalt[:keyLen], keySalt[keyLen:], profile)
	if err != nil {
		return nil, fmt.Errorf("создание контекста SRTP: %w", err)
	}
	return ctx, nil
}
