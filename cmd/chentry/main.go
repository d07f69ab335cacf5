// Command chentry modifies the entry address of an ELF binary, the way
// the teaching kernel this module targets patches a linked kernel image
// after the fact instead of relying on the linker script to get the
// entry point right. Retargeted from the teacher's x86-64 build tool to
// the riscv64 Sv39 images vm.FromELF loads, with zerolog replacing the
// original's log.Fatal calls.
package main

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func usage(me string) {
	os.Stderr.WriteString(me + " <filename> <addr>\n\nChange the ELF entry point of <filename> to <addr>\n")
	os.Exit(1)
}

// chkELF validates that eh describes a little-endian riscv64
// executable, the only shape vm.FromELF's fixtures take.
func chkELF(eh *elf.FileHeader) {
	if eh.Ident[0] != 0x7f || string(eh.Ident[1:4]) != "ELF" {
		log.Fatal().Msg("not an elf")
	}
	if eh.Ident[elf.EI_DATA] != elf.ELFDATA2LSB {
		log.Fatal().Msg("not little-endian")
	}
	if eh.Type != elf.ET_EXEC {
		log.Fatal().Msg("not an executable elf")
	}
	if eh.Machine != elf.EM_RISCV {
		log.Fatal().Msg("not a riscv64 elf")
	}
}

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if len(os.Args) != 3 {
		usage(os.Args[0])
	}
	fn := os.Args[1]
	addr, err := parseAddr(os.Args[2])
	if err != nil {
		log.Fatal().Err(err).Send()
	}

	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("open")
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatal().Err(err).Msg("parse elf")
	}
	chkELF(&ef.FileHeader)

	log.Info().Str("file", fn).Uint64("addr", addr).Msg("patching entry point")
	ent := make([]byte, 8)
	binary.LittleEndian.PutUint64(ent, addr)
	if ef.Class == elf.ELFCLASS32 {
		ent = ent[:4]
	}
	// e_entry sits at byte 24 in both the ELF32 and ELF64 headers.
	if _, err := f.WriteAt(ent, 24); err != nil {
		log.Fatal().Err(err).Msg("write")
	}
}

// parseAddr accepts decimal or 0x-prefixed hexadecimal, matching the
// teacher's strtoul-style base-0 parsing.
func parseAddr(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}
