// cmd/grove/main.go
//
// grove CLI - inspect grove database files.
//
// Usage:
//
//	grove <database-file>
//
// Prints the file descriptor, the free-list extents if the file has a
// free-list snapshot, and the root page's header and item summary.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"grove/pkg/addr"
	"grove/pkg/block"
	"grove/pkg/dbfile"
	"grove/pkg/item"
	"grove/pkg/page"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: grove <database-file>")
		os.Exit(2)
	}

	if err := inspect(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "grove: %v\n", err)
		os.Exit(1)
	}
}

func inspect(path string) error {
	store, err := block.OpenFile(path, block.Options{AllocSize: addr.AllocSizeMin})
	if err != nil {
		return err
	}
	defer store.Close()

	raw, err := store.ReadBlock(0, dbfile.DescSize)
	if err != nil {
		return err
	}
	desc, err := dbfile.DecodeDescriptor(raw)
	if err != nil {
		return err
	}
	printDescriptor(path, desc)

	if desc.FreeAddr != addr.Invalid {
		if err := inspectFreeList(store, desc); err != nil {
			return err
		}
	}

	if desc.RootAddr == addr.Invalid {
		fmt.Println(warnStyle.Render("file has no root page"))
		return nil
	}
	return inspectRoot(store, desc)
}

func printDescriptor(path string, d *dbfile.Descriptor) {
	fmt.Println(titleStyle.Render("Descriptor: " + path))
	row("version", fmt.Sprintf("%d.%d", d.MajorV, d.MinorV))
	row("intl pages", fmt.Sprintf("%d .. %d bytes", d.IntlMin, d.IntlMax))
	row("leaf pages", fmt.Sprintf("%d .. %d bytes", d.LeafMin, d.LeafMax))
	row("records", fmt.Sprintf("%d (recno offset %d)", d.Records, d.RecnoOffset))
	row("root", fmtAddr(d.RootAddr, d.RootSize))
	row("free list", fmtAddr(d.FreeAddr, d.FreeSize))
	row("rle", fmt.Sprintf("%v", d.RLE()))
	if d.FixedLen != 0 {
		row("fixed len", fmt.Sprintf("%d bytes", d.FixedLen))
	}
}

func inspectFreeList(store block.Store, d *dbfile.Descriptor) error {
	buf, err := store.ReadBlock(d.FreeAddr, d.FreeSize)
	if err != nil {
		return err
	}
	if err := page.VerifyChecksum(buf); err != nil {
		return err
	}
	hdr, err := page.DecodeHeader(buf)
	if err != nil {
		return err
	}
	if hdr.Kind != page.KindFreeList {
		return fmt.Errorf("free-list page has kind %s", hdr.Kind)
	}

	fmt.Println(titleStyle.Render("Free list"))
	body := buf[page.HeaderSize:]
	var total uint64
	for i := uint32(0); i < hdr.Entries; i++ {
		a := addr.Addr(binary.LittleEndian.Uint32(body[i*block.ExtentSize:]))
		size := binary.LittleEndian.Uint32(body[i*block.ExtentSize+4:])
		total += uint64(size)
		row(fmt.Sprintf("extent %d", i), fmtAddr(a, size))
	}
	row("total", fmt.Sprintf("%d bytes", total))
	return nil
}

func inspectRoot(store block.Store, d *dbfile.Descriptor) error {
	buf, err := store.ReadBlock(d.RootAddr, d.RootSize)
	if err != nil {
		return err
	}
	if err := page.VerifyChecksum(buf); err != nil {
		return err
	}
	hdr, err := page.DecodeHeader(buf)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Root page"))
	row("type", hdr.Kind.String())
	row("level", fmt.Sprintf("%d", hdr.Level))
	row("checksum", fmt.Sprintf("%#08x", hdr.Checksum))
	row("lsn", fmt.Sprintf("%d/%d", hdr.LSNFile, hdr.LSNOff))
	if hdr.Kind == page.KindOvfl {
		row("data len", fmt.Sprintf("%d bytes", hdr.DataLen()))
		return nil
	}
	row("entries", fmt.Sprintf("%d", hdr.Entries))
	if hdr.StartRecno != 0 {
		row("start recno", fmt.Sprintf("%d", hdr.StartRecno))
	}

	switch hdr.Kind {
	case page.KindRowInt, page.KindRowLeaf, page.KindDupInt, page.KindDupLeaf, page.KindColVar:
		printItems(buf[page.HeaderSize:], hdr.Entries)
	}
	return nil
}

func printItems(payload []byte, entries uint32) {
	fmt.Println(titleStyle.Render("Items"))
	it := item.NewIter(payload, entries)
	for i := 0; ; i++ {
		e, ok := it.Next()
		if !ok {
			break
		}
		fmt.Printf("%s %s\n",
			labelStyle.Render(fmt.Sprintf("%4d %s", i, e.Type)),
			valueStyle.Render(fmt.Sprintf("%d bytes", len(e.Data))))
	}
	if err := it.Err(); err != nil {
		fmt.Println(warnStyle.Render("item stream: " + err.Error()))
	}
}

func row(label, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(label), valueStyle.Render(value))
}

func fmtAddr(a addr.Addr, size uint32) string {
	switch a {
	case addr.Invalid:
		return "none"
	case addr.Deleted:
		return "deleted"
	}
	return fmt.Sprintf("addr %d, %d bytes", uint32(a), size)
}
