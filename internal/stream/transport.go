package stream

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// pahoTransport adapts a paho MQTT session (over a ws:// broker URL) to
// the transport interface. Paho's own retry machinery is disabled so the
// Manager's backoff policy is the only reconnect driver.
type pahoTransport struct {
	client mqtt.Client
}

func newPahoTransport(o Options, onLost func(error)) transport {
	opts := mqtt.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	if o.Tokens != nil {
		if tok := o.Tokens.Token(); tok != "" {
			opts.SetUsername("bearer")
			opts.SetPassword(tok)
		}
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) { onLost(err) }

	return &pahoTransport{client: mqtt.NewClient(opts)}
}

func (t *pahoTransport) Connect() error {
	token := t.client.Connect()
	token.Wait()
	return token.Error()
}

func (t *pahoTransport) Disconnect() {
	t.client.Disconnect(250)
}

func (t *pahoTransport) Subscribe(topic string, qos byte, handler func(payload []byte)) error {
	token := t.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (t *pahoTransport) IsConnected() bool { return t.client.IsConnected() }
