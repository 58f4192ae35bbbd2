package push

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/safetyhub/internal/config"
	"github.com/safetyhub/internal/logger"
)

// VAPIDKeys: пара ключей для Web Push (VAPID).
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k *VAPIDKeys) valid() bool { return k != nil && k.PublicKey != "" && k.PrivateKey != "" }

// ResolveVAPIDKeys: ключи из окружения > файл KeysFile > новая пара, которая
// сохраняется в KeysFile, чтобы подписки браузеров пережили перезапуск.
func ResolveVAPIDKeys(cfg config.PushConfig) (*VAPIDKeys, error) {
	if k := (&VAPIDKeys{PublicKey: cfg.VAPIDPublicKey, PrivateKey: cfg.VAPIDPrivateKey}); k.valid() {
		return k, nil
	}
	if cfg.KeysFile != "" {
		if k, err := readKeys(cfg.KeysFile); err == nil && k.valid() {
			return k, nil
		}
	}
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("generate vapid keys: %w", err)
	}
	k := &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if cfg.KeysFile == "" {
		return k, nil
	}
	if err := writeKeys(cfg.KeysFile, k); err != nil {
		logger.Errorf("push: не удалось сохранить VAPID-ключи в %s: %v (ключи сгенерированы и используются)", cfg.KeysFile, err)
		return k, nil
	}
	logger.Infof("push: VAPID-ключи сгенерированы и сохранены в %s", cfg.KeysFile)
	return k, nil
}

func readKeys(path string) (*VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var k VAPIDKeys
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

func writeKeys(path string, k *VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
