package keysight

import (
	"fmt"
	"go/types"
	"strings"
	"time"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/parameter"
	"github.com/labhive/instruments/scpi"
)

// J7211 is an interface to a Keysight J7211 attenuation control unit.
// The A and B variants attenuate 0 to 120 dB, the C variant 0 to 100 dB;
// the range is read from the identification at connect time.
type J7211 struct {
	scpi.SCPI

	maxAttenuation int

	params *parameter.Table
}

// NewJ7211 creates a new J7211 instance, querying the hardware for its
// model to learn the attenuation range
func NewJ7211(addr string) (*J7211, error) {
	maker := comm.BackingOffTCPConnMaker(addr, 1*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	// the unit frames messages with carriage returns, not newlines
	j := &J7211{SCPI: scpi.SCPI{Pool: pool, Rx: '\r', Tx: '\r'}}
	idn, err := j.Identification()
	if err != nil {
		return nil, err
	}
	pieces := strings.Split(idn, ",")
	if len(pieces) < 2 {
		return nil, fmt.Errorf("malformed identification %q", idn)
	}
	switch model := strings.TrimSpace(pieces[1]); model {
	case "J7211A", "J7211B":
		j.maxAttenuation = 120
	case "J7211C":
		j.maxAttenuation = 100
	default:
		return nil, fmt.Errorf("model %s is not supported", model)
	}
	j.buildParams()
	return j, nil
}

// Identification returns the *IDN? response of the unit
func (j *J7211) Identification() (string, error) {
	return j.ReadString("*IDN?")
}

// Attenuation returns the current attenuation in dB
func (j *J7211) Attenuation() (int, error) {
	return j.ReadInt("ATT?")
}

// SetAttenuation programs the attenuation in dB
func (j *J7211) SetAttenuation(dB int) error {
	if dB < 0 || dB > j.maxAttenuation {
		return fmt.Errorf("attenuation %d out of range [0, %d]", dB, j.maxAttenuation)
	}
	return j.Write(fmt.Sprintf("ATT %03d", dB))
}

func (j *J7211) buildParams() {
	t := parameter.NewTable()
	t.Add(parameter.Parameter{
		Name: "attenuation",
		Unit: "dB",
		Kind: types.Int,
		Vals: parameter.Ints{Min: 0, Max: j.maxAttenuation},
		Getter: func() (interface{}, error) {
			return j.Attenuation()
		},
		Setter: func(v interface{}) error {
			return j.SetAttenuation(v.(int))
		},
	})
	j.params = t
}

// Params returns the parameter table of the unit
func (j *J7211) Params() *parameter.Table {
	return j.params
}
