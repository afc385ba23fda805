package sub

import (
	"encoding/base64"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	logging "github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/logger"
	"github.com/multix-dev/multix/util/common"
	"github.com/multix-dev/multix/xui"
)

func TestMain(m *testing.M) {
	os.Setenv("MX_LOG_FOLDER", os.TempDir())
	logger.InitLogger(logging.DEBUG)
	os.Exit(m.Run())
}

var testPanel = &model.Panel{Id: 1, Name: "nl-1", BaseUrl: "https://nl1.example.com:2053"}

func uuidIdent(value string) xui.ClientIdentifier {
	return xui.ClientIdentifier{Protocol: model.VLESS, Field: xui.FieldUUID, Value: value}
}

func TestGenerateVlessLinkWsTls(t *testing.T) {
	inbound := &model.InboundListener{
		Id: 1, Protocol: model.VLESS, Port: 443,
		Settings: `{"clients":[{"id":"11111111-2222-3333-4444-555555555555","email":"a@example.com"}]}`,
		StreamSettings: `{
			"network": "ws",
			"security": "tls",
			"wsSettings": {"path": "/stream", "headers": {"Host": "cdn.example.com"}},
			"tlsSettings": {"serverName": "cdn.example.com", "alpn": ["h2", "http/1.1"], "settings": {"fingerprint": "chrome"}}
		}`,
	}

	var svc LinkService
	link, err := svc.GenerateConfigLink(testPanel, inbound, uuidIdent("11111111-2222-3333-4444-555555555555"), "nl-ws")
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "vless", u.Scheme)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", u.User.Username())
	assert.Equal(t, "nl1.example.com:443", u.Host)
	assert.Equal(t, "nl-ws", u.Fragment)

	q := u.Query()
	assert.Equal(t, "ws", q.Get("type"))
	assert.Equal(t, "tls", q.Get("security"))
	assert.Equal(t, "/stream", q.Get("path"))
	assert.Equal(t, "cdn.example.com", q.Get("host"))
	assert.Equal(t, "cdn.example.com", q.Get("sni"))
	assert.Equal(t, "h2,http/1.1", q.Get("alpn"))
	assert.Equal(t, "chrome", q.Get("fp"))
	// No reality means no flow parameter.
	assert.Empty(t, q.Get("flow"))
}

func TestGenerateVlessLinkRealityFlow(t *testing.T) {
	inbound := &model.InboundListener{
		Id: 2, Protocol: model.VLESS, Port: 8443,
		Settings: `{"clients":[{"id":"aaaa","flow":"xtls-rprx-vision","email":"r@example.com"}]}`,
		StreamSettings: `{
			"network": "tcp",
			"security": "reality",
			"realitySettings": {
				"serverNames": ["yahoo.com"],
				"shortIds": ["ab12"],
				"settings": {"publicKey": "pbk-value", "fingerprint": "firefox", "spiderX": "/"}
			}
		}`,
	}

	var svc LinkService
	link, err := svc.GenerateConfigLink(testPanel, inbound, uuidIdent("aaaa"), "nl-reality")
	require.NoError(t, err)

	q, err := url.Parse(link)
	require.NoError(t, err)
	params := q.Query()
	assert.Equal(t, "reality", params.Get("security"))
	assert.Equal(t, "yahoo.com", params.Get("sni"))
	assert.Equal(t, "pbk-value", params.Get("pbk"))
	assert.Equal(t, "ab12", params.Get("sid"))
	assert.Equal(t, "firefox", params.Get("fp"))
	assert.Equal(t, "/", params.Get("spx"))
	assert.Equal(t, "xtls-rprx-vision", params.Get("flow"))
}

func TestGenerateVmessLink(t *testing.T) {
	inbound := &model.InboundListener{
		Id: 3, Protocol: model.VMESS, Port: 10086,
		Settings:       `{"clients":[{"id":"bbbb","email":"v@example.com"}]}`,
		StreamSettings: `{"network":"tcp","security":"none","tcpSettings":{"header":{"type":"none"}}}`,
	}

	var svc LinkService
	ident := xui.ClientIdentifier{Protocol: model.VMESS, Field: xui.FieldUUID, Value: "bbbb"}
	link, err := svc.GenerateConfigLink(testPanel, inbound, ident, "nl-vmess")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "vmess://"))

	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(link, "vmess://"))
	require.NoError(t, err)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(blob, &obj))

	assert.Equal(t, "2", obj["v"])
	assert.Equal(t, "nl-vmess", obj["ps"])
	assert.Equal(t, "nl1.example.com", obj["add"])
	assert.EqualValues(t, 10086, obj["port"])
	assert.Equal(t, "bbbb", obj["id"])
	assert.Equal(t, "tcp", obj["net"])
	assert.Equal(t, "none", obj["type"])
	assert.Equal(t, "none", obj["tls"])
	// Empty fields are stripped, not emitted as "".
	_, hasPath := obj["path"]
	assert.False(t, hasPath)
	_, hasSni := obj["sni"]
	assert.False(t, hasSni)
}

func TestGenerateVmessLinkGrpcRemap(t *testing.T) {
	inbound := &model.InboundListener{
		Id: 4, Protocol: model.VMESS, Port: 2083,
		Settings:       `{"clients":[{"id":"cccc","email":"g@example.com"}]}`,
		StreamSettings: `{"network":"grpc","security":"none","grpcSettings":{"serviceName":"svc","multiMode":true}}`,
	}

	var svc LinkService
	ident := xui.ClientIdentifier{Protocol: model.VMESS, Field: xui.FieldUUID, Value: "cccc"}
	link, err := svc.GenerateConfigLink(testPanel, inbound, ident, "nl-grpc")
	require.NoError(t, err)

	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(link, "vmess://"))
	require.NoError(t, err)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(blob, &obj))

	assert.Equal(t, "grpc", obj["net"])
	assert.Equal(t, "svc", obj["path"])
	assert.Equal(t, "multi", obj["type"])
}

func TestGenerateTrojanLink(t *testing.T) {
	inbound := &model.InboundListener{
		Id: 5, Protocol: model.Trojan, Port: 443,
		Settings:       `{"clients":[{"password":"tr-secret","email":"t@example.com"}]}`,
		StreamSettings: `{"network":"tcp","security":"tls","tlsSettings":{"serverName":"nl1.example.com"}}`,
	}

	var svc LinkService
	ident := xui.ClientIdentifier{Protocol: model.Trojan, Field: xui.FieldPassword, Value: "tr-secret"}
	link, err := svc.GenerateConfigLink(testPanel, inbound, ident, "nl-trojan")
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "trojan", u.Scheme)
	assert.Equal(t, "tr-secret", u.User.Username())
	assert.Equal(t, "tls", u.Query().Get("security"))
	assert.Equal(t, "nl1.example.com", u.Query().Get("sni"))

	// The wrong identifier kind is rejected, not silently mislinked.
	_, err = svc.GenerateConfigLink(testPanel, inbound, uuidIdent("tr-secret"), "nl-trojan")
	require.Error(t, err)
	var cfgErr *common.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestGenerateShadowsocksLink(t *testing.T) {
	inbound := &model.InboundListener{
		Id: 6, Protocol: model.Shadowsocks, Port: 8388,
		Settings:       `{"method":"aes-256-gcm","clients":[{"password":"ss-secret","email":"s@example.com"}]}`,
		StreamSettings: `{"network":"tcp","security":"none"}`,
	}

	var svc LinkService
	ident := xui.ClientIdentifier{Protocol: model.Shadowsocks, Field: xui.FieldEmail, Value: "s@example.com"}
	link, err := svc.GenerateConfigLink(testPanel, inbound, ident, "nl-ss")
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "ss", u.Scheme)
	assert.Equal(t, "nl1.example.com:8388", u.Host)

	decoded, err := base64.StdEncoding.DecodeString(u.User.Username())
	require.NoError(t, err)
	assert.Equal(t, "aes-256-gcm:ss-secret", string(decoded))
}

func TestGenerateShadowsocks2022Link(t *testing.T) {
	inbound := &model.InboundListener{
		Id: 7, Protocol: model.Shadowsocks, Port: 8389,
		Settings:       `{"method":"2022-blake3-aes-128-gcm","password":"srv-key","clients":[{"password":"cli-key","email":"s2@example.com"}]}`,
		StreamSettings: `{"network":"tcp","security":"none"}`,
	}

	var svc LinkService
	ident := xui.ClientIdentifier{Protocol: model.Shadowsocks, Field: xui.FieldEmail, Value: "s2@example.com"}
	link, err := svc.GenerateConfigLink(testPanel, inbound, ident, "nl-ss22")
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(u.User.Username())
	require.NoError(t, err)
	assert.Equal(t, "2022-blake3-aes-128-gcm:srv-key:cli-key", string(decoded))
}

func TestGenerateLinkEdgeCases(t *testing.T) {
	var svc LinkService

	// Unsupported protocol: empty link, no error.
	inbound := &model.InboundListener{Id: 8, Protocol: model.Protocol("wireguard"), Port: 51820}
	link, err := svc.GenerateConfigLink(testPanel, inbound, uuidIdent("x"), "wg")
	require.NoError(t, err)
	assert.Empty(t, link)

	// Missing network in stream settings is corrupted inventory.
	broken := &model.InboundListener{
		Id: 9, Protocol: model.VLESS, Port: 443,
		Settings:       `{"clients":[]}`,
		StreamSettings: `{"security":"none"}`,
	}
	_, err = svc.GenerateConfigLink(testPanel, broken, uuidIdent("x"), "broken")
	require.Error(t, err)
	var cfgErr *common.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	// A panel URL without a host cannot produce a link.
	badPanel := &model.Panel{Id: 2, BaseUrl: "not a url"}
	_, err = svc.GenerateConfigLink(badPanel, broken, uuidIdent("x"), "bad")
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)
}
