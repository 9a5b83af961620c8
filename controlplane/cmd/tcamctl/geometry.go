package main

import (
	"fmt"

	"github.com/c2h5oh/datasize"
)

func runGeometry(cmd Cmd) error {
	_, director, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	for _, name := range director.Registry().Tables() {
		table, err := director.Registry().Table(name)
		if err != nil {
			return err
		}
		g := table.Geometry()

		// Key data and mask, action and counter per slot.
		slotBits := 2*g.KeyWidth + g.ActionWidth + g.CounterWidth
		storage := datasize.ByteSize(g.TotalSlots() * slotBits / 8)

		fmt.Printf("table %s: %d slots (%d rows x %d), %d lookups, %s raw storage\n",
			name, g.TotalSlots(), g.Rows, g.SubSlotsPerRow, g.Lookups, storage.HR())
		for _, size := range g.SizeClasses {
			fmt.Printf("  size %d: key %d bits, action %d bits, capacity %d\n",
				size, g.KeyBits(size), g.ActionBits(size), g.TotalSlots()/size)
		}
	}

	return nil
}
