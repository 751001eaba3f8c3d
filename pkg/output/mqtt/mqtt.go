package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/templogger/pkg/config"
	"github.com/ericogr/templogger/pkg/output"
	"github.com/ericogr/templogger/pkg/sensor"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	sensorTopicFmt = "templogger/%s"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitCelsius            = "°C"
	deviceClassTemperature = "temperature"
	stateClassMeasurement  = "measurement"
	valueTemplateCelsius   = "{{ value_json.temp_c }}"
)

// payload is the JSON document published for each reading.
type payload struct {
	SensorID   string  `json:"sensor_id"`
	Celsius    float64 `json:"temp_c"`
	Fahrenheit float64 `json:"temp_f"`
	Timestamp  int64   `json:"timestamp"`
}

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
}

// NewMQTT connects to the broker and, when a discovery topic is configured,
// publishes a retained Home Assistant config for each sensor in ids.
func NewMQTT(cfg config.MQTTConfig, ids []string) (output.Output, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "mqtt connect")
	}

	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic}

	if cfg.DiscoveryTopic != "" {
		for _, id := range ids {
			dTopic := formatTopic(cfg.DiscoveryTopic, id)
			p := discoveryPayload(discoveryName(cfg, id), formatStateTopic(cfg.StateTopic, id), discoveryUniqueID(cfg, id))
			if err := publishJSON(client, dTopic, true, p); err != nil {
				log.WithError(err).WithField("topic", dTopic).Warn("mqtt discovery publish failed")
			}
		}
	}

	return m, nil
}

func (m *MQTTOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		b, err := json.Marshal(newPayload(r))
		if err != nil {
			return err
		}
		token := m.client.Publish(formatStateTopic(m.stateTopic, r.SensorID), 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return errors.Wrapf(token.Error(), "mqtt publish %s", r.SensorID)
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

func newPayload(r sensor.Reading) payload {
	p := payload{SensorID: r.SensorID, Celsius: r.Celsius, Fahrenheit: r.Fahrenheit}
	if !r.Timestamp.IsZero() {
		p.Timestamp = r.Timestamp.UnixMilli()
	}
	return p
}

// helper: a %s in the topic is replaced by the sensor id
func formatTopic(topic, id string) string {
	if strings.Contains(topic, "%s") {
		return fmt.Sprintf(topic, id)
	}
	return topic
}

// helper: state topic for a sensor, falling back to the per-sensor default
func formatStateTopic(base, id string) string {
	if base != "" {
		return formatTopic(base, id)
	}
	return fmt.Sprintf(sensorTopicFmt, id)
}

func discoveryName(cfg config.MQTTConfig, id string) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = "DS18B20"
	}
	return fmt.Sprintf("%s %s", name, id)
}

func discoveryUniqueID(cfg config.MQTTConfig, id string) string {
	uid := cfg.ClientID
	if uid == "" {
		return id
	}
	return fmt.Sprintf("%s_%s", uid, id)
}

func discoveryPayload(name, stateTopic, uniqueID string) map[string]interface{} {
	return map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   unitCelsius,
		keyDeviceClass:         deviceClassTemperature,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateCelsius,
		keyJSONAttributesTopic: stateTopic,
		keyUniqueID:            uniqueID,
	}
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, p map[string]interface{}) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
