package idcode

import "fmt"

// IDCode is a decoded IEEE 1149.1 IDCODE register value.
type IDCode struct {
	Raw              uint32 // full IDCODE
	Version          uint8  // [31:28]
	PartNumber       uint16 // [27:12]
	ManufacturerCode uint16 // [11:1] JEP106 bank and id
	Valid            bool   // bit 0 == 1
}

// Manufacturer is a JEP106 manufacturer entry.
type Manufacturer struct {
	Code         uint16
	Name         string
	Abbreviation string
}

// Parse splits a raw IDCODE into its fields.
func Parse(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8(raw >> 28 & 0xF),
		PartNumber:       uint16(raw >> 12 & 0xFFFF),
		ManufacturerCode: uint16(raw >> 1 & 0x7FF),
		Valid:            raw&0x1 == 0x1,
	}
}

// Manufacturer looks up the designer of the device.
func (id IDCode) Manufacturer() Manufacturer {
	m, _ := LookupManufacturer(id.ManufacturerCode)
	return m
}

func (id IDCode) String() string {
	return fmt.Sprintf("0x%08X (%s, part 0x%04X, rev %d)",
		id.Raw, id.Manufacturer().Name, id.PartNumber, id.Version)
}

// Matches compares raw against value using mask. Mask bits that are zero are
// don't-care positions, as written with 'X' in BSDL IDCODE_REGISTER strings.
func Matches(raw, value, mask uint32) bool {
	return raw&mask == value&mask
}
