package source

import (
	"fmt"
	"net"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/netdash/internal/core"
)

// Interface describes a capture device.
type Interface struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty" yaml:"addresses,omitempty"`
}

// Interfaces lists the devices libpcap can capture on.
func Interfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, classifyOpenError("", err)
	}
	out := make([]Interface, 0, len(devs))
	for _, d := range devs {
		iface := Interface{Name: d.Name, Description: d.Description}
		for _, a := range d.Addresses {
			iface.Addresses = append(iface.Addresses, a.IP.String())
		}
		out = append(out, iface)
	}
	return out, nil
}

// lookupInterface reports core.ErrInterfaceNotFound for unknown devices.
func lookupInterface(name string) error {
	devs, err := pcap.FindAllDevs()
	if err == nil {
		for _, d := range devs {
			if d.Name == name {
				return nil
			}
		}
	}
	// libpcap may hide devices it cannot open; the kernel has the final say.
	if _, ierr := net.InterfaceByName(name); ierr == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", core.ErrInterfaceNotFound, name)
}
