// Package aviosys provides a driver for the Aviosys IP Power 9258S
// networked power switch.  The device exposes a small HTTP command API
// behind basic auth; it has four switched sockets labeled A to D.
package aviosys

import (
	"fmt"
	"go/types"
	"io/ioutil"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/labhive/instruments/parameter"
)

// socketIDs maps the socket letters to the numeric IDs used on the wire
var socketIDs = map[string]int{"A": 1, "B": 2, "C": 3, "D": 4}

// powerRe matches one socket state in a getpower reply, e.g. p61=1
var powerRe = regexp.MustCompile(`p6([1-4])=([01])`)

// IPPower9258 represents an IP Power 9258S power switch
type IPPower9258 struct {
	// Addr is the base URL of the device, e.g. http://192.168.1.100
	Addr string

	user string
	pass string

	client *http.Client

	params *parameter.Table
}

// New creates a new IPPower9258 with the given base URL and login
func New(addr, user, pass string) *IPPower9258 {
	ip := &IPPower9258{
		Addr:   addr,
		user:   user,
		pass:   pass,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	ip.buildParams()
	return ip
}

func (ip *IPPower9258) get(rawurl string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, rawurl, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(ip.user, ip.pass)
	resp, err := ip.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("device returned %s: %s", resp.Status, string(body))
	}
	return string(body), nil
}

// PowerStates returns the on/off state of every socket keyed by letter
func (ip *IPPower9258) PowerStates() (map[string]bool, error) {
	body, err := ip.get(ip.Addr + "/set.cmd?cmd=getpower")
	if err != nil {
		return nil, err
	}
	matches := powerRe.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("unrecognized getpower reply %q", body)
	}
	out := make(map[string]bool)
	for _, m := range matches {
		for letter, id := range socketIDs {
			if fmt.Sprint(id) == m[1] {
				out[letter] = m[2] == "1"
			}
		}
	}
	return out, nil
}

// Power returns whether the named socket is on
func (ip *IPPower9258) Power(socket string) (bool, error) {
	id, ok := socketIDs[socket]
	if !ok {
		return false, fmt.Errorf("unknown socket %q, valid sockets are A to D", socket)
	}
	states, err := ip.PowerStates()
	if err != nil {
		return false, err
	}
	on, ok := states[socket]
	if !ok {
		return false, fmt.Errorf("device reply missing socket %d", id)
	}
	return on, nil
}

// SetPower turns the named socket on or off
func (ip *IPPower9258) SetPower(socket string, on bool) error {
	id, ok := socketIDs[socket]
	if !ok {
		return fmt.Errorf("unknown socket %q, valid sockets are A to D", socket)
	}
	state := 0
	if on {
		state = 1
	}
	_, err := ip.get(fmt.Sprintf("%s/set.cmd?cmd=setpower+p6%d=%d", ip.Addr, id, state))
	return err
}

// Sockets returns the socket letters in order
func (ip *IPPower9258) Sockets() []string {
	out := make([]string, 0, len(socketIDs))
	for letter := range socketIDs {
		out = append(out, letter)
	}
	sort.Strings(out)
	return out
}

// Identification returns the vendor and model of the device.  The 9258S
// has no identification query, so this is a constant.
func (ip *IPPower9258) Identification() (string, error) {
	return "Aviosys,IP Power 9258S", nil
}

func (ip *IPPower9258) buildParams() {
	t := parameter.NewTable()
	for _, letter := range ip.Sockets() {
		letter := letter
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("socket_%s_power", strings.ToLower(letter)),
			Kind: types.Bool,
			Getter: func() (interface{}, error) {
				return ip.Power(letter)
			},
			Setter: func(v interface{}) error {
				return ip.SetPower(letter, v.(bool))
			},
		})
	}
	ip.params = t
}

// Params returns the parameter table of the device
func (ip *IPPower9258) Params() *parameter.Table {
	return ip.params
}
