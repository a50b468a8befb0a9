package speechkit

import (
	"github.com/harunnryd/speechjob/pkg/configutil"
)

// Recognition defaults for the long-running recognize call.
const (
	DefaultLanguageCode      = "ru-RU"
	DefaultModel             = "general"
	DefaultAudioEncoding     = "OGG_OPUS"
	DefaultSampleRateHertz   = 48000
	DefaultAudioChannelCount = 1
)

// RecognitionRequest describes one asynchronous recognition job.
type RecognitionRequest struct {
	LanguageCode      string
	Model             string
	ProfanityFilter   bool
	AudioEncoding     string
	SampleRateHertz   int
	AudioChannelCount int
	RawResults        bool
	AudioURI          string
}

// DefaultRecognitionRequest builds a request with the service defaults for uri.
func DefaultRecognitionRequest(uri string) RecognitionRequest {
	return RecognitionRequest{
		LanguageCode:      DefaultLanguageCode,
		Model:             DefaultModel,
		ProfanityFilter:   false,
		AudioEncoding:     DefaultAudioEncoding,
		SampleRateHertz:   DefaultSampleRateHertz,
		AudioChannelCount: DefaultAudioChannelCount,
		RawResults:        false,
		AudioURI:          uri,
	}
}

// RecognitionSettings are optional overrides read from the free-form
// recognition config section.
type RecognitionSettings struct {
	LanguageCode      string `mapstructure:"language_code"`
	Model             string `mapstructure:"model"`
	ProfanityFilter   *bool  `mapstructure:"profanity_filter"`
	AudioEncoding     string `mapstructure:"audio_encoding"`
	SampleRateHertz   *int   `mapstructure:"sample_rate_hertz"`
	AudioChannelCount *int   `mapstructure:"audio_channel_count"`
	RawResults        *bool  `mapstructure:"raw_results"`
}

// RecognitionSchema lists the keys accepted in the recognition config section.
var RecognitionSchema = configutil.Schema{
	Name: "recognition",
	Optional: []string{
		"language_code",
		"model",
		"profanity_filter",
		"audio_encoding",
		"sample_rate_hertz",
		"audio_channel_count",
		"raw_results",
	},
}

// DecodeRecognitionSettings validates and decodes a recognition settings map.
func DecodeRecognitionSettings(in map[string]any) (RecognitionSettings, error) {
	var s RecognitionSettings
	if err := configutil.ValidateSettings(in, RecognitionSchema); err != nil {
		return s, err
	}
	if err := configutil.DecodeSettings(in, &s); err != nil {
		return s, err
	}
	return s, nil
}

// Apply overlays s onto req.
func (s RecognitionSettings) Apply(req RecognitionRequest) RecognitionRequest {
	req.LanguageCode = configutil.StringValue(s.LanguageCode, req.LanguageCode)
	req.Model = configutil.StringValue(s.Model, req.Model)
	req.ProfanityFilter = configutil.BoolValue(s.ProfanityFilter, req.ProfanityFilter)
	req.AudioEncoding = configutil.StringValue(s.AudioEncoding, req.AudioEncoding)
	req.SampleRateHertz = configutil.IntValue(s.SampleRateHertz, req.SampleRateHertz)
	req.AudioChannelCount = configutil.IntValue(s.AudioChannelCount, req.AudioChannelCount)
	req.RawResults = configutil.BoolValue(s.RawResults, req.RawResults)
	return req
}

type recognizeBody struct {
	Config struct {
		Specification specification `json:"specification"`
	} `json:"config"`
	Audio struct {
		URI string `json:"uri"`
	} `json:"audio"`
}

type specification struct {
	LanguageCode      string `json:"languageCode"`
	Model             string `json:"model"`
	ProfanityFilter   bool   `json:"profanityFilter"`
	AudioEncoding     string `json:"audioEncoding"`
	SampleRateHertz   int    `json:"sampleRateHertz"`
	AudioChannelCount int    `json:"audioChannelCount"`
	RawResults        bool   `json:"rawResults"`
}

func (r RecognitionRequest) body() recognizeBody {
	var b recognizeBody
	b.Config.Specification = specification{
		LanguageCode:      r.LanguageCode,
		Model:             r.Model,
		ProfanityFilter:   r.ProfanityFilter,
		AudioEncoding:     r.AudioEncoding,
		SampleRateHertz:   r.SampleRateHertz,
		AudioChannelCount: r.AudioChannelCount,
		RawResults:        r.RawResults,
	}
	b.Audio.URI = r.AudioURI
	return b
}
