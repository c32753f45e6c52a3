//go:build linux

// Package link administers CAN network interfaces over routing netlink:
// bringing links up and down, configuring bit timing and enumerating the
// CAN-family interfaces the kernel knows about.
package link

import (
	"fmt"
	"net"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

// Up sets the IFF_UP flag on the named interface.
func Up(name string) error { return setLinkFlags(name, unix.IFF_UP) }

// Down clears the IFF_UP flag on the named interface.
func Down(name string) error { return setLinkFlags(name, 0) }

// SetBitrate configures the link's nominal bitrate. The kernel derives the
// remaining bit-timing parameters. The interface must be down.
func SetBitrate(name string, bitrate uint32) error {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return fmt.Errorf("link %q: %w", name, err)
	}

	msg := ifInfoMsg{Family: unix.AF_UNSPEC, Index: int32(ifi.Index)}
	ae := netlink.NewAttributeEncoder()
	ae.Nested(unix.IFLA_LINKINFO, func(nae *netlink.AttributeEncoder) error {
		nae.String(unix.IFLA_INFO_KIND, "can")
		nae.Nested(unix.IFLA_INFO_DATA, func(nae *netlink.AttributeEncoder) error {
			nae.Bytes(unix.IFLA_CAN_BITTIMING, marshalBitTiming(bitrate))
			return nil
		})
		return nil
	})
	attrs, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("link %q: encode bittiming: %w", name, err)
	}

	if err := execute(unix.RTM_NEWLINK, append(msg.marshal(), attrs...)); err != nil {
		return fmt.Errorf("link %q: set bitrate %d: %w", name, bitrate, err)
	}
	return nil
}

// Bring configures the bitrate (when nonzero) and then brings the link up,
// the usual one-call preparation before opening a driver session. The link
// is taken down first since bit timing cannot change on a live interface.
func Bring(name string, bitrate uint32) error {
	if bitrate > 0 {
		if err := Down(name); err != nil {
			return err
		}
		if err := SetBitrate(name, bitrate); err != nil {
			return err
		}
	}
	return Up(name)
}

// Interfaces lists the names of all CAN-family links known to the kernel,
// virtual ones included.
func Interfaces() ([]string, error) {
	c, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return nil, fmt.Errorf("link: dial netlink: %w", err)
	}
	defer c.Close()

	req := netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_GETLINK,
			Flags: netlink.Request | netlink.Dump,
		},
		Data: (&ifInfoMsg{Family: unix.AF_UNSPEC}).marshal(),
	}
	msgs, err := c.Execute(req)
	if err != nil {
		return nil, fmt.Errorf("link: dump links: %w", err)
	}

	var names []string
	for _, m := range msgs {
		if len(m.Data) < unix.SizeofIfInfomsg {
			continue
		}
		var ifi ifInfoMsg
		if err := ifi.unmarshal(m.Data[:unix.SizeofIfInfomsg]); err != nil {
			continue
		}
		if ifi.Type != unix.ARPHRD_CAN {
			continue
		}
		ad, err := netlink.NewAttributeDecoder(m.Data[unix.SizeofIfInfomsg:])
		if err != nil {
			continue
		}
		for ad.Next() {
			if ad.Type() == unix.IFLA_IFNAME {
				names = append(names, ad.String())
			}
		}
	}
	return names, nil
}

func setLinkFlags(name string, flags uint32) error {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return fmt.Errorf("link %q: %w", name, err)
	}
	msg := ifInfoMsg{
		Family: unix.AF_UNSPEC,
		Index:  int32(ifi.Index),
		Flags:  flags,
		Change: unix.IFF_UP,
	}
	if err := execute(unix.RTM_NEWLINK, msg.marshal()); err != nil {
		return fmt.Errorf("link %q: change flags: %w", name, err)
	}
	return nil
}

func execute(typ netlink.HeaderType, data []byte) error {
	c, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return fmt.Errorf("dial netlink: %w", err)
	}
	defer c.Close()

	_, err = c.Execute(netlink.Message{
		Header: netlink.Header{
			Type:  typ,
			Flags: netlink.Request | netlink.Acknowledge,
		},
		Data: data,
	})
	return err
}

// ifInfoMsg mirrors struct ifinfomsg (linux/rtnetlink.h), 16 bytes in native
// endianness.
type ifInfoMsg struct {
	Family uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

func (ifi *ifInfoMsg) marshal() []byte {
	buf := make([]byte, unix.SizeofIfInfomsg)
	buf[0] = ifi.Family
	nlenc.PutUint16(buf[2:4], ifi.Type)
	nlenc.PutInt32(buf[4:8], ifi.Index)
	nlenc.PutUint32(buf[8:12], ifi.Flags)
	nlenc.PutUint32(buf[12:16], ifi.Change)
	return buf
}

func (ifi *ifInfoMsg) unmarshal(data []byte) error {
	if len(data) != unix.SizeofIfInfomsg {
		return fmt.Errorf("ifinfomsg: expected %d bytes, got %d", unix.SizeofIfInfomsg, len(data))
	}
	ifi.Family = nlenc.Uint8(data[0:1])
	ifi.Type = nlenc.Uint16(data[2:4])
	ifi.Index = nlenc.Int32(data[4:8])
	ifi.Flags = nlenc.Uint32(data[8:12])
	ifi.Change = nlenc.Uint32(data[12:16])
	return nil
}

// marshalBitTiming produces struct can_bittiming with only the bitrate
// populated; the kernel computes the segment timing itself.
func marshalBitTiming(bitrate uint32) []byte {
	buf := make([]byte, 32)
	nlenc.PutUint32(buf[0:4], bitrate)
	return buf
}
