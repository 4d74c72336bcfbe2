package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/pagelens/internal/layout"
)

// ErrInvalidOption marks an out-of-range or malformed request option.
// Handlers map it to the invalid-input error code.
var ErrInvalidOption = errors.New("invalid option")

// RequestOptions is the raw per-request configuration surface. Every field
// is optional; nil resolves to the documented default. Field names follow
// the wire protocol.
type RequestOptions struct {
	UseDocOrientationClassify *bool `json:"useDocOrientationClassify,omitempty"`
	UseDocUnwarping           *bool `json:"useDocUnwarping,omitempty"`
	UseTextlineOrientation    *bool `json:"useTextlineOrientation,omitempty"`
	UseSealRecognition        *bool `json:"useSealRecognition,omitempty"`
	UseTableRecognition       *bool `json:"useTableRecognition,omitempty"`
	UseFormulaRecognition     *bool `json:"useFormulaRecognition,omitempty"`
	UseChartRecognition       *bool `json:"useChartRecognition,omitempty"`
	UseRegionDetection        *bool `json:"useRegionDetection,omitempty"`

	LayoutThreshold       *float64        `json:"layoutThreshold,omitempty"`
	LayoutNMS             *bool           `json:"layoutNms,omitempty"`
	LayoutUnclipRatio     json.RawMessage `json:"layoutUnclipRatio,omitempty"` // scalar or [x, y]
	LayoutMergeBboxesMode *string         `json:"layoutMergeBboxesMode,omitempty"`

	TextDetLimitSideLen *int     `json:"textDetLimitSideLen,omitempty"`
	TextDetLimitType    *string  `json:"textDetLimitType,omitempty"`
	TextDetThresh       *float64 `json:"textDetThresh,omitempty"`
	TextDetBoxThresh    *float64 `json:"textDetBoxThresh,omitempty"`
	TextDetUnclipRatio  *float64 `json:"textDetUnclipRatio,omitempty"`
	TextRecScoreThresh  *float64 `json:"textRecScoreThresh,omitempty"`

	SealDetLimitSideLen *int     `json:"sealDetLimitSideLen,omitempty"`
	SealDetLimitType    *string  `json:"sealDetLimitType,omitempty"`
	SealDetThresh       *float64 `json:"sealDetThresh,omitempty"`
	SealDetBoxThresh    *float64 `json:"sealDetBoxThresh,omitempty"`
	SealDetUnclipRatio  *float64 `json:"sealDetUnclipRatio,omitempty"`
	SealRecScoreThresh  *float64 `json:"sealRecScoreThresh,omitempty"`

	UseWiredTableCellsTransToHtml    *bool `json:"useWiredTableCellsTransToHtml,omitempty"`
	UseWirelessTableCellsTransToHtml *bool `json:"useWirelessTableCellsTransToHtml,omitempty"`
	UseTableOrientationClassify      *bool `json:"useTableOrientationClassify,omitempty"`
	UseOcrResultsWithTableCells      *bool `json:"useOcrResultsWithTableCells,omitempty"`
	UseE2eWiredTableRecModel         *bool `json:"useE2eWiredTableRecModel,omitempty"`
	UseE2eWirelessTableRecModel      *bool `json:"useE2eWirelessTableRecModel,omitempty"`

	Visualize *bool `json:"visualize,omitempty"`
}

// DetOptions is one detection threshold set. The text and seal pipelines
// each carry their own value; they never share state.
type DetOptions struct {
	LimitSideLen   int
	LimitType      string
	Thresh         float64
	BoxThresh      float64
	UnclipRatio    float64
	RecScoreThresh float64
}

// Options is the resolved, validated, immutable pipeline configuration.
type Options struct {
	UseDocOrientationClassify bool
	UseDocUnwarping           bool
	UseTextlineOrientation    bool
	UseSealRecognition        bool
	UseTableRecognition       bool
	UseFormulaRecognition     bool
	UseChartRecognition       bool
	UseRegionDetection        bool

	LayoutThreshold       float64
	LayoutNMS             bool
	LayoutUnclipRatio     [2]float64 // x, y
	LayoutMergeBboxesMode layout.MergeMode

	TextDet DetOptions
	SealDet DetOptions

	UseWiredTableCellsTransToHtml    bool
	UseWirelessTableCellsTransToHtml bool
	UseTableOrientationClassify      bool
	UseOcrResultsWithTableCells      bool
	UseE2eWiredTableRecModel         bool
	UseE2eWirelessTableRecModel      bool

	Visualize bool
}

// DefaultOptions returns the documented defaults: all major stages on except
// chart recognition, layout threshold 0.5 with NMS, no box expansion, and
// the separate text/seal detection threshold sets.
func DefaultOptions() Options {
	return Options{
		UseDocOrientationClassify: true,
		UseDocUnwarping:           true,
		UseTextlineOrientation:    true,
		UseSealRecognition:        true,
		UseTableRecognition:       true,
		UseFormulaRecognition:     true,
		UseChartRecognition:       false,
		UseRegionDetection:        true,

		LayoutThreshold:       0.5,
		LayoutNMS:             true,
		LayoutUnclipRatio:     [2]float64{1.0, 1.0},
		LayoutMergeBboxesMode: layout.MergeLarge,

		TextDet: DetOptions{
			LimitSideLen:   960,
			LimitType:      "max",
			Thresh:         0.3,
			BoxThresh:      0.6,
			UnclipRatio:    2.0,
			RecScoreThresh: 0.0,
		},
		SealDet: DetOptions{
			LimitSideLen:   736,
			LimitType:      "min",
			Thresh:         0.2,
			BoxThresh:      0.6,
			UnclipRatio:    0.5,
			RecScoreThresh: 0.0,
		},

		UseWiredTableCellsTransToHtml:    false,
		UseWirelessTableCellsTransToHtml: false,
		UseTableOrientationClassify:      true,
		UseOcrResultsWithTableCells:      true,
		UseE2eWiredTableRecModel:         false,
		UseE2eWirelessTableRecModel:      true,

		Visualize: false,
	}
}

// ResolveOptions fills defaults, applies overrides from raw, and validates
// every range. Thresholds are checked, not clamped silently: out-of-range
// input is rejected so callers learn about their mistake.
func ResolveOptions(raw RequestOptions) (Options, error) {
	opts := DefaultOptions()

	setBool(&opts.UseDocOrientationClassify, raw.UseDocOrientationClassify)
	setBool(&opts.UseDocUnwarping, raw.UseDocUnwarping)
	setBool(&opts.UseTextlineOrientation, raw.UseTextlineOrientation)
	setBool(&opts.UseSealRecognition, raw.UseSealRecognition)
	setBool(&opts.UseTableRecognition, raw.UseTableRecognition)
	setBool(&opts.UseFormulaRecognition, raw.UseFormulaRecognition)
	setBool(&opts.UseChartRecognition, raw.UseChartRecognition)
	setBool(&opts.UseRegionDetection, raw.UseRegionDetection)
	setBool(&opts.LayoutNMS, raw.LayoutNMS)
	setBool(&opts.UseWiredTableCellsTransToHtml, raw.UseWiredTableCellsTransToHtml)
	setBool(&opts.UseWirelessTableCellsTransToHtml, raw.UseWirelessTableCellsTransToHtml)
	setBool(&opts.UseTableOrientationClassify, raw.UseTableOrientationClassify)
	setBool(&opts.UseOcrResultsWithTableCells, raw.UseOcrResultsWithTableCells)
	setBool(&opts.UseE2eWiredTableRecModel, raw.UseE2eWiredTableRecModel)
	setBool(&opts.UseE2eWirelessTableRecModel, raw.UseE2eWirelessTableRecModel)
	setBool(&opts.Visualize, raw.Visualize)

	if raw.LayoutThreshold != nil {
		if err := checkUnit("layoutThreshold", *raw.LayoutThreshold); err != nil {
			return Options{}, err
		}
		opts.LayoutThreshold = *raw.LayoutThreshold
	}
	if raw.LayoutMergeBboxesMode != nil {
		mode := layout.MergeMode(*raw.LayoutMergeBboxesMode)
		if !layout.ValidMergeMode(mode) {
			return Options{}, fmt.Errorf("%w: layoutMergeBboxesMode %q", ErrInvalidOption, *raw.LayoutMergeBboxesMode)
		}
		opts.LayoutMergeBboxesMode = mode
	}
	if len(raw.LayoutUnclipRatio) > 0 {
		ratio, err := parseUnclipRatio(raw.LayoutUnclipRatio)
		if err != nil {
			return Options{}, err
		}
		opts.LayoutUnclipRatio = ratio
	}

	if err := resolveDet("textDet", &opts.TextDet, detOverrides{
		limitSideLen: raw.TextDetLimitSideLen,
		limitType:    raw.TextDetLimitType,
		thresh:       raw.TextDetThresh,
		boxThresh:    raw.TextDetBoxThresh,
		unclipRatio:  raw.TextDetUnclipRatio,
		recThresh:    raw.TextRecScoreThresh,
	}); err != nil {
		return Options{}, err
	}
	if err := resolveDet("sealDet", &opts.SealDet, detOverrides{
		limitSideLen: raw.SealDetLimitSideLen,
		limitType:    raw.SealDetLimitType,
		thresh:       raw.SealDetThresh,
		boxThresh:    raw.SealDetBoxThresh,
		unclipRatio:  raw.SealDetUnclipRatio,
		recThresh:    raw.SealRecScoreThresh,
	}); err != nil {
		return Options{}, err
	}

	return opts, nil
}

type detOverrides struct {
	limitSideLen *int
	limitType    *string
	thresh       *float64
	boxThresh    *float64
	unclipRatio  *float64
	recThresh    *float64
}

func resolveDet(name string, det *DetOptions, ov detOverrides) error {
	if ov.limitSideLen != nil {
		if *ov.limitSideLen <= 0 {
			return fmt.Errorf("%w: %sLimitSideLen must be positive, got %d", ErrInvalidOption, name, *ov.limitSideLen)
		}
		det.LimitSideLen = *ov.limitSideLen
	}
	if ov.limitType != nil {
		if *ov.limitType != "min" && *ov.limitType != "max" {
			return fmt.Errorf("%w: %sLimitType must be \"min\" or \"max\", got %q", ErrInvalidOption, name, *ov.limitType)
		}
		det.LimitType = *ov.limitType
	}
	if ov.thresh != nil {
		if err := checkUnit(name+"Thresh", *ov.thresh); err != nil {
			return err
		}
		det.Thresh = *ov.thresh
	}
	if ov.boxThresh != nil {
		if err := checkUnit(name+"BoxThresh", *ov.boxThresh); err != nil {
			return err
		}
		det.BoxThresh = *ov.boxThresh
	}
	if ov.unclipRatio != nil {
		if *ov.unclipRatio <= 0 {
			return fmt.Errorf("%w: %sUnclipRatio must be positive, got %v", ErrInvalidOption, name, *ov.unclipRatio)
		}
		det.UnclipRatio = *ov.unclipRatio
	}
	if ov.recThresh != nil {
		if err := checkUnit(name+" recScoreThresh", *ov.recThresh); err != nil {
			return err
		}
		det.RecScoreThresh = *ov.recThresh
	}
	return nil
}

// parseUnclipRatio accepts a positive scalar or a [x, y] pair.
func parseUnclipRatio(raw json.RawMessage) ([2]float64, error) {
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		if scalar <= 0 {
			return [2]float64{}, fmt.Errorf("%w: layoutUnclipRatio must be positive, got %v", ErrInvalidOption, scalar)
		}
		return [2]float64{scalar, scalar}, nil
	}
	var pair []float64
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) != 2 {
			return [2]float64{}, fmt.Errorf("%w: layoutUnclipRatio list must have 2 elements, got %d", ErrInvalidOption, len(pair))
		}
		if pair[0] <= 0 || pair[1] <= 0 {
			return [2]float64{}, fmt.Errorf("%w: layoutUnclipRatio values must be positive", ErrInvalidOption)
		}
		return [2]float64{pair[0], pair[1]}, nil
	}
	return [2]float64{}, fmt.Errorf("%w: layoutUnclipRatio must be a number or a 2-element list", ErrInvalidOption)
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %s %v outside [0,1]", ErrInvalidOption, name, v)
	}
	return nil
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
