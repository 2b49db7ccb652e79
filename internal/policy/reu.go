// Package policy turns a classification result into an enforcement
// decision: the risk-exposure unit, the action to apply, and the bytes
// (or synthesized response) to put on the wire.
package policy

import (
	"github.com/complyze/complyze-proxy/internal/classify"
	"github.com/complyze/complyze-proxy/internal/domains"
)

// Exposure describes how the sensitive content leaves the device.
type Exposure string

const (
	ExposureTextOnly   Exposure = "text_only"
	ExposureAttachment Exposure = "attachment"
	ExposureBulk       Exposure = "bulk"
	ExposureBlocked    Exposure = "blocked"
)

// exposureMultipliers scale risk by transport shape. A blocked request
// never left the device, so it contributes the baseline only.
var exposureMultipliers = map[Exposure]float64{
	ExposureTextOnly:   2.0,
	ExposureAttachment: 5.0,
	ExposureBulk:       10.0,
	ExposureBlocked:    1.0,
}

// destinationMultipliers scale risk by where the bytes go.
var destinationMultipliers = map[domains.Class]float64{
	domains.ClassEnterpriseApproved: 0.5,
	domains.ClassBusinessSaaS:       1.0,
	domains.ClassPublicAI:           2.0,
	domains.ClassUnknown:            3.0,
	domains.ClassBanned:             5.0,
}

// BulkTextThreshold is the extracted-text length above which an
// attachment counts as bulk exposure.
const BulkTextThreshold = 5000

// REU computes the risk-exposure unit for a classified request. The
// sensitivity points term is the classifier's raw (unnormalized)
// weighted score.
func REU(result *classify.Result, exposure Exposure, class domains.Class) float64 {
	if result == nil {
		return 0
	}

	em, ok := exposureMultipliers[exposure]
	if !ok {
		em = exposureMultipliers[ExposureTextOnly]
	}
	dm, ok := destinationMultipliers[class]
	if !ok {
		dm = destinationMultipliers[domains.ClassUnknown]
	}

	return float64(result.RawScore) * em * dm
}

// ExposureFor picks the exposure class for a request: bulk beats
// attachment, attachment beats plain text, and a blocked request is
// always ExposureBlocked.
func ExposureFor(blocked, hasAttachment bool, extractedTextLen int) Exposure {
	switch {
	case blocked:
		return ExposureBlocked
	case hasAttachment && extractedTextLen > BulkTextThreshold:
		return ExposureBulk
	case hasAttachment:
		return ExposureAttachment
	default:
		return ExposureTextOnly
	}
}
