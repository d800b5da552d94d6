package player

import (
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// Category is the audio session category requested from the engine.
type Category int

const (
	CategoryPlayback    Category = iota + 1 // Plays alone, ignores the silent switch
	CategoryAmbient                         // Mixes with other audio, respects the silent switch
	CategorySoloAmbient                     // Silences other audio, respects the silent switch
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryPlayback:
		return "Playback"
	case CategoryAmbient:
		return "Ambient"
	case CategorySoloAmbient:
		return "SoloAmbient"
	default:
		return "unknown"
	}
}

// ParseCategory parses a category name. Matching is case-insensitive.
func ParseCategory(name string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "playback":
		return CategoryPlayback, nil
	case "ambient":
		return CategoryAmbient, nil
	case "soloambient", "solo_ambient":
		return CategorySoloAmbient, nil
	default:
		return 0, errors.Wrapf(ErrInvalidParam, "unknown category %q", name)
	}
}

// Options are the construction options of a player. They never change after
// the player is created.
type Options struct {
	AutoDestroy           bool
	ContinuesInBackground bool
	Category              Category
	MixWithOthers         bool
}

// DefaultOptions returns the options used when a key is absent.
func DefaultOptions() Options {
	opts, _ := ParseOptions(nil)
	return opts
}

// Map returns the options keyed the same way ParseOptions reads them.
func (o Options) Map() map[string]any {
	return map[string]any{
		"autoDestroy":                 o.AutoDestroy,
		"continuesToPlayInBackground": o.ContinuesInBackground,
		"category":                    o.Category.String(),
		"mixWithOthers":               o.MixWithOthers,
	}
}

// rawOptions uses pointers so that defaults only fill keys the caller left out.
type rawOptions struct {
	AutoDestroy                 *bool     `mapstructure:"autoDestroy" default:"true"`
	ContinuesToPlayInBackground *bool     `mapstructure:"continuesToPlayInBackground" default:"false"`
	Category                    *Category `mapstructure:"category" default:"1" validate:"oneof=1 2 3"`
	MixWithOthers               *bool     `mapstructure:"mixWithOthers" default:"false"`
}

var categoryType = reflect.TypeOf(Category(0))

// categoryHook decodes category names into Category values.
func categoryHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	if to != categoryType && to != reflect.PointerTo(categoryType) {
		return data, nil
	}
	return ParseCategory(data.(string))
}

// ParseOptions builds Options from a loosely typed map. Each recognized key is
// defaulted independently; unknown keys are ignored.
func ParseOptions(settings map[string]any) (Options, error) {
	var raw rawOptions
	var md mapstructure.Metadata

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		TagName:          "mapstructure",
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       categoryHook,
	})
	if err != nil {
		return Options{}, errors.Wrap(err, "failed to create decoder")
	}
	if settings != nil {
		if err := decoder.Decode(settings); err != nil {
			return Options{}, errors.Mark(errors.Wrap(err, "failed to decode options"), ErrInvalidParam)
		}
	}
	if len(md.Unused) > 0 {
		zlog.Debug().Msgf("player: ignoring unknown options %v", md.Unused)
	}

	if err := defaults.Set(&raw); err != nil {
		return Options{}, errors.Wrap(err, "failed to set defaults")
	}
	if err := validate.Struct(raw); err != nil {
		return Options{}, errors.Mark(errors.Wrap(err, "validation failed"), ErrInvalidParam)
	}

	return Options{
		AutoDestroy:           *raw.AutoDestroy,
		ContinuesInBackground: *raw.ContinuesToPlayInBackground,
		Category:              *raw.Category,
		MixWithOthers:         *raw.MixWithOthers,
	}, nil
}

var validate = validator.New()
