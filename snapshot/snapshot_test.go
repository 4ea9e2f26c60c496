package snapshot

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/tdx-attest-tools/quote"
	"github.com/stretchr/testify/require"
)

// syntheticQuote builds a decodable quote with the given byte repeated in
// MRTD and per-register fill patterns in the RTMRs.
func syntheticQuote(t *testing.T, mutate func(raw []byte)) []byte {
	t.Helper()
	raw := make([]byte, quote.DefaultLayout.MinQuoteSize())
	binary.LittleEndian.PutUint16(raw[0:2], quote.SupportedVersion)
	binary.LittleEndian.PutUint16(raw[12:14], quote.TEETypeTDX)

	report := raw[quote.DefaultLayout.HeaderSize:]
	for i := 0; i < quote.MeasurementSize; i++ {
		report[quote.DefaultLayout.MRTDOffset+i] = 0x11
	}
	for r, off := range quote.DefaultLayout.RTMROffsets {
		for i := 0; i < quote.MeasurementSize; i++ {
			report[off+i] = byte(0x20 + r)
		}
	}
	if mutate != nil {
		mutate(raw)
	}
	return raw
}

func capture(t *testing.T, store *Store, name, cmdline, dmesg string, raw []byte) *Snapshot {
	t.Helper()
	snap, err := store.Create(name, Artifacts{
		Quote:     raw,
		Cmdline:   cmdline,
		DmesgHead: dmesg,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return snap
}

func TestCreateAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())
	raw := syntheticQuote(t, nil)

	created := capture(t, store, "boot1", "console=ttyS0 root=/dev/vda1", "RAMDISK: [mem 0x7fb81000-0x7fffffff]", raw)
	require.Equal(t, "boot1", created.Name)

	loaded, err := store.Load("boot1")
	require.NoError(t, err)
	require.NoError(t, loaded.QuoteErr)
	require.Equal(t, raw, loaded.Quote)
	require.Equal(t, "console=ttyS0 root=/dev/vda1", loaded.Cmdline)
	require.Equal(t, created.Measurements.Hex(), loaded.Measurements.Hex())
	require.False(t, loaded.Timestamp.IsZero())

	// All artifact files must exist.
	for _, fname := range []string{QuoteFile, MeasurementsFile, CmdlineFile, DmesgHeadFile, TimestampFile} {
		_, err := os.Stat(filepath.Join(store.Root(), "boot1", fname))
		require.NoError(t, err, fname)
	}
}

func TestCreateAutoIncrement(t *testing.T) {
	store := NewStore(t.TempDir())
	raw := syntheticQuote(t, nil)

	first := capture(t, store, "", "", "", raw)
	require.Equal(t, "boot1", first.Name)

	capture(t, store, "boot3", "", "", raw)

	// First unused integer suffix, not max+1.
	second, err := store.Create("", Artifacts{Quote: raw})
	require.NoError(t, err)
	require.Equal(t, "boot2", second.Name)

	names, err := store.List()
	require.NoError(t, err)
	require.Equal(t, []string{"boot1", "boot2", "boot3"}, names)
}

func TestCreateAllOrNothing(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Create("boot1", Artifacts{Quote: []byte("garbage")})
	require.ErrorIs(t, err, quote.ErrTruncatedQuote)

	// No partial snapshot may remain.
	names, err := store.List()
	require.NoError(t, err)
	require.Empty(t, names)

	entries, err := os.ReadDir(store.Root())
	if err == nil {
		require.Empty(t, entries)
	}
}

func TestCreateRefusesDuplicate(t *testing.T) {
	store := NewStore(t.TempDir())
	raw := syntheticQuote(t, nil)
	capture(t, store, "boot1", "", "", raw)

	_, err := store.Create("boot1", Artifacts{Quote: raw})
	require.Error(t, err)
}

func TestCompareRequiresTwoSnapshots(t *testing.T) {
	store := NewStore(t.TempDir())
	snap := capture(t, store, "boot1", "", "", syntheticQuote(t, nil))

	_, err := Compare([]*Snapshot{snap})
	require.ErrorIs(t, err, ErrInsufficientSnapshots)

	_, err = Compare(nil)
	require.ErrorIs(t, err, ErrInsufficientSnapshots)
}

func TestCompareSelfIsIdentical(t *testing.T) {
	store := NewStore(t.TempDir())
	snap := capture(t, store, "boot1", "console=ttyS0", "initrd @ 0x7fb81000", syntheticQuote(t, nil))

	report, err := Compare([]*Snapshot{snap, snap})
	require.NoError(t, err)
	require.True(t, report.AllIdentical)
	require.Len(t, report.Pairs, 1)
	require.True(t, report.Pairs[0].Identical())
}

func TestCompareIsDirectionIndependent(t *testing.T) {
	store := NewStore(t.TempDir())
	a := capture(t, store, "boot1", "console=ttyS0", "", syntheticQuote(t, nil))
	b := capture(t, store, "boot2", "console=ttyS0 quiet", "", syntheticQuote(t, func(raw []byte) {
		raw[quote.DefaultLayout.HeaderSize+quote.DefaultLayout.RTMROffsets[2]] ^= 0xFF
	}))

	ab, err := Compare([]*Snapshot{a, b})
	require.NoError(t, err)
	ba, err := Compare([]*Snapshot{b, a})
	require.NoError(t, err)

	fields := func(r *Report) []string {
		var out []string
		for _, d := range r.Pairs[0].Diffs {
			out = append(out, d.Field)
		}
		return out
	}
	require.ElementsMatch(t, fields(ab), fields(ba))
	require.ElementsMatch(t, []string{"RTMR2", FieldCmdline}, fields(ab))
}

func TestCompareAllIdenticalVerdict(t *testing.T) {
	store := NewStore(t.TempDir())
	raw := syntheticQuote(t, nil)

	a := capture(t, store, "boot1", "console=ttyS0", "", raw)
	b := capture(t, store, "boot2", "console=ttyS0", "", raw)
	c := capture(t, store, "boot3", "console=ttyS0", "", syntheticQuote(t, func(raw []byte) {
		// Flip one byte of RTMR3 relative to the first two boots.
		raw[quote.DefaultLayout.HeaderSize+quote.DefaultLayout.RTMROffsets[3]+7] ^= 0x01
	}))

	report, err := Compare([]*Snapshot{a, b, c})
	require.NoError(t, err)
	require.False(t, report.AllIdentical)
	require.Equal(t, []string{"RTMR3"}, report.UnstableRegisters)

	// First pair clean, second pair names RTMR3.
	require.True(t, report.Pairs[0].Identical())
	require.Len(t, report.Pairs[1].Diffs, 1)
	require.Equal(t, "RTMR3", report.Pairs[1].Diffs[0].Field)
}

func TestCompareMissingQuoteIsHardFailure(t *testing.T) {
	store := NewStore(t.TempDir())
	raw := syntheticQuote(t, nil)
	capture(t, store, "boot1", "", "", raw)
	capture(t, store, "boot2", "", "", raw)

	require.NoError(t, os.Remove(filepath.Join(store.Root(), "boot2", QuoteFile)))

	snaps, err := store.LoadAll()
	require.NoError(t, err)
	require.Error(t, snaps[1].QuoteErr)

	report, err := Compare(snaps)
	require.NoError(t, err)
	require.False(t, report.AllIdentical)
	require.True(t, report.Pairs[0].Failed)
	require.Contains(t, report.Pairs[0].Reason, "boot2")
}

func TestCompareInitrdAddressDrift(t *testing.T) {
	store := NewStore(t.TempDir())
	raw := syntheticQuote(t, nil)

	a := capture(t, store, "boot1", "console=ttyS0", "[    0.000000] RAMDISK: [mem 0x7fb81000-0x7fffffff]", raw)
	b := capture(t, store, "boot2", "console=ttyS0", "[    0.000000] RAMDISK: [mem 0x7fa00000-0x7fe7efff]", raw)

	report, err := Compare([]*Snapshot{a, b})
	require.NoError(t, err)
	// Registers stable, only the initrd address moved.
	require.True(t, report.AllIdentical)
	require.Len(t, report.Pairs[0].Diffs, 1)
	require.Equal(t, FieldInitrdAddress, report.Pairs[0].Diffs[0].Field)
}

func TestEndToEndCmdlineDrift(t *testing.T) {
	// Identical synthetic quotes, different kernel cmdlines: the report must
	// show cmdline DIFFERS and quote measurements IDENTICAL.
	store := NewStore(t.TempDir())
	raw := syntheticQuote(t, nil)

	a := capture(t, store, "boot1", "console=ttyS0 root=/dev/vda1", "", raw)
	b := capture(t, store, "boot2", "console=ttyS0 root=/dev/vda1 panic=30", "", raw)

	report, err := Compare([]*Snapshot{a, b})
	require.NoError(t, err)
	require.True(t, report.AllIdentical)
	require.Empty(t, report.UnstableRegisters)

	require.Len(t, report.Pairs[0].Diffs, 1)
	require.Equal(t, FieldCmdline, report.Pairs[0].Diffs[0].Field)

	rendered := report.Render()
	require.Contains(t, rendered, "cmdline DIFFERS")
	require.Contains(t, rendered, "identical measurements")
}

func TestInitrdAddressExtraction(t *testing.T) {
	testCases := []struct {
		name string
		log  string
		want string
	}{
		{
			name: "ramdisk mem range",
			log:  "[    0.000000] RAMDISK: [mem 0x7fb81000-0x7fffffff]",
			want: "0x7fb81000-0x7fffffff",
		},
		{
			name: "initrd at marker",
			log:  "[    0.000000] Unpacking initramfs...\n[    0.000000] initrd @ 0x7fb81000",
			want: "0x7fb81000",
		},
		{
			name: "no initrd line",
			log:  "[    0.000000] Linux version 6.8.0",
			want: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, InitrdAddress(tc.log))
		})
	}
}
