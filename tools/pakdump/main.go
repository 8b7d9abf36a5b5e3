// Command pakdump prints the layout of a packed cooked container:
// header, footer, asset directory, and resource tables.
//
// Usage: pakdump [-v] file.pak
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/spaghettifunk/oxygen/engine/pak"
)

func main() {
	verbose := flag.Bool("v", false, "print per-row table detail")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: pakdump [-v] file.pak")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := dump(flag.Arg(0), *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "pakdump: %v\n", err)
		os.Exit(2)
	}
}

func dump(path string, verbose bool) error {
	pf, err := pak.Open(path)
	if err != nil {
		return err
	}

	header := pf.Header()
	footer := pf.Footer()
	fmt.Printf("%s\n", pf.Path())
	fmt.Printf("  format version   %d\n", header.Version)
	fmt.Printf("  content version  %d\n", header.ContentVersion)
	fmt.Printf("  source key       %s\n", hex.EncodeToString(footer.SourceKey[:]))
	fmt.Printf("  crc32            %08x\n", footer.CRC32)
	fmt.Printf("  assets           %d\n", footer.AssetCount)
	fmt.Printf("  directory        offset=%d size=%d\n", footer.DirectoryOffset, footer.DirectorySize)
	fmt.Printf("  texture region   offset=%d size=%d\n", footer.TextureRegion.Offset, footer.TextureRegion.Size)
	fmt.Printf("  buffer region    offset=%d size=%d\n", footer.BufferRegion.Offset, footer.BufferRegion.Size)

	fmt.Printf("\ndirectory (%d entries)\n", pf.AssetCount())
	for _, entry := range pf.Entries() {
		vpath, _ := pf.VirtualPath(entry.AssetKey)
		fmt.Printf("  %s  %-8s  %6d B  %s\n",
			hex.EncodeToString(entry.AssetKey[:]), entry.AssetType, entry.DescSize, vpath)
	}

	textures := pf.TextureTable()
	fmt.Printf("\ntexture table (%d rows)\n", len(textures))
	if verbose {
		for i, row := range textures {
			fmt.Printf("  [%3d] %dx%dx%d mips=%d fmt=%d type=%d offset=%d size=%d\n",
				i, row.Width, row.Height, row.Depth, row.MipCount, row.Format,
				row.TextureType, row.DataOffset, row.SizeBytes)
		}
	}

	buffers := pf.BufferTable()
	fmt.Printf("\nbuffer table (%d rows)\n", len(buffers))
	if verbose {
		for i, row := range buffers {
			fmt.Printf("  [%3d] usage=%#x stride=%d offset=%d size=%d\n",
				i, row.UsageFlags, row.ElementStride, row.DataOffset, row.SizeBytes)
		}
	}
	return nil
}
