package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
)

// DefaultModel is the fine-tuned emotion classifier.
const DefaultModel = "ft:gpt-3.5-turbo-0125:personal:emotions:9MFmXPJ9"

const answerFormat = `{
   "sentiments": [
      {"sentiment": "emozione1", "accuracy": accuratezza1},
      {"sentiment": "emozione2", "accuracy": accuratezza2},
      {"sentiment": "emozione3", "accuracy": accuratezza3}
   ]
}`

var answerSchema = GenerateSchema[emotion.ClassifierAnswer]()

// Responder is the subset of the OpenAI Responses service the classifier needs.
type Responder interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// OpenAIClassifier implements emotion.Classifier on top of the OpenAI Responses API.
// It performs exactly one call per Classify; failures are not retried.
type OpenAIClassifier struct {
	responder Responder
	model     string
	labels    []string
	// structured attaches a strict JSON schema to the request. Fine-tuned chat
	// models may reject json_schema formats, so it is opt-in.
	structured      bool
	maxOutputTokens int64
}

// ClassifierOptions configures NewOpenAIClassifier.
type ClassifierOptions struct {
	Model            string
	Labels           []string
	StructuredOutput bool
	MaxOutputTokens  int64
}

// NewOpenAIClassifier wraps an OpenAI client.
func NewOpenAIClassifier(client *openai.Client, opt ClassifierOptions) (*OpenAIClassifier, error) {
	if client == nil {
		return nil, errors.New("NewOpenAIClassifier: client is nil")
	}
	return newClassifier(&client.Responses, opt)
}

func newClassifier(r Responder, opt ClassifierOptions) (*OpenAIClassifier, error) {
	if r == nil {
		return nil, errors.New("newClassifier: responder is nil")
	}
	model := strings.TrimSpace(opt.Model)
	if model == "" {
		model = DefaultModel
	}
	labels := opt.Labels
	if len(labels) == 0 {
		labels = emotion.DefaultLabels
	}
	maxTokens := opt.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &OpenAIClassifier{
		responder:       r,
		model:           model,
		labels:          labels,
		structured:      opt.StructuredOutput,
		maxOutputTokens: maxTokens,
	}, nil
}

// Classify asks the model for the most probable emotions in text.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (emotion.Ranking, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, emotion.ErrEmptyInput
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(c.maxOutputTokens),
		Instructions:    openai.String(c.instructions()),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if c.structured {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "EmotionRanking",
					Schema:      answerSchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Most probable emotions with confidence"),
					Type:        "json_schema",
				},
			},
		}
	}

	resp, err := c.responder.New(ctx, params)
	if err != nil {
		return nil, classifyCallError(err)
	}
	return emotion.ParseClassifierOutput(resp.OutputText())
}

func (c *OpenAIClassifier) instructions() string {
	return Instructions(c.labels)
}

// Instructions is the system prompt sent with every classification; exports
// reuse it as the system message.
func Instructions(labels []string) string {
	quoted := make([]string, 0, len(labels))
	for _, l := range labels {
		quoted = append(quoted, "'"+l+"'")
	}
	return fmt.Sprintf("Sei un chatbot che riconosce le tre emozioni più probabili tra %s esprime la frase "+
		"che gli viene posta. Se non conosci la risposta rispondi con 'idk'. Fornisci risposte in formato json "+
		"con la seguente struttura '%s', dove accuratezza è la confidence con cui hai previsto per la "+
		"specifica emozione.", strings.Join(quoted, ", "), answerFormat)
}

// classifyCallError maps a failed API call onto an Unavailable ClassifierError.
func classifyCallError(err error) *emotion.ClassifierError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return emotion.Unavailablef(apiErr.StatusCode, err)
	}
	return emotion.Unavailablef(0, err)
}

func GenerateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		panic(err)
	}
	ensureOpenAICompliance(schemaObj)
	return schemaObj
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

// ensureOpenAICompliance forces additionalProperties=false and marks every property
// required on each object, as strict structured outputs demand.
func ensureOpenAICompliance(schema map[string]interface{}) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
			var requiredFields []string
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			if len(requiredFields) > 0 {
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]interface{}); ok {
				ensureOpenAICompliance(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]interface{}); ok {
		ensureOpenAICompliance(items)
	}
}
