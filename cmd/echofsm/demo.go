package main

import (
	"fmt"
	"io"

	"github.com/EchoPBX/echofsm/internal/dispenser"
	"github.com/EchoPBX/echofsm/internal/events"
	"github.com/EchoPBX/echofsm/internal/feed"
	"github.com/EchoPBX/echofsm/internal/fsm"
	"github.com/EchoPBX/echofsm/internal/sinks"
)

func runDemo(w io.Writer) error {
	if err := followersDemo(w); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return dispenserDemo(w)
}

func followersDemo(w io.Writer) error {
	bus := events.NewBus()
	chloe := feed.NewAuthor("Chloe", bus)

	tom, err := feed.Follow(bus, "Tom", sinks.Writer(w, "Tom"))
	if err != nil {
		return err
	}
	jack, err := feed.Follow(bus, "Jack", sinks.Writer(w, "Jack"))
	if err != nil {
		return err
	}
	if err := jack.SetConnected(true); err != nil {
		return err
	}

	post := func(url, desc string) error {
		report, err := chloe.CreatePost(url, desc)
		if err != nil {
			return err
		}
		return report.Err()
	}

	fmt.Fprintln(w, "# Jack is online, Tom is not")
	if err := post("http://www.selfiemine.com/selfie1.png", "Selfie taken at home"); err != nil {
		return err
	}
	if err := post("http://www.modelshoot.com/chloe.png", "Model shoot"); err != nil {
		return err
	}
	fmt.Fprintf(w, "# Tom has %d posts waiting and comes online\n", tom.Pending())
	if err := tom.SetConnected(true); err != nil {
		return err
	}

	fmt.Fprintln(w, "# both receive the next post")
	if err := post("http://www.ootd.com/ootd.png", "#ootd"); err != nil {
		return err
	}

	fmt.Fprintln(w, "# Tom is removed")
	if err := feed.Unfollow(bus, "Tom"); err != nil {
		return err
	}
	return post("http://www.ootd2.com/ootd2.png", "#ootd")
}

func dispenserDemo(w io.Writer) error {
	d, err := dispenser.New(1, dispenser.WithOutput(w))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "# candy dispenser, %d candy in stock\n", d.Count())
	for _, sym := range []fsm.Symbol{
		dispenser.InsertCoin, dispenser.InsertCoin, dispenser.TurnKnob, dispenser.Dispense, dispenser.EjectCoin,
		dispenser.InsertCoin, dispenser.TurnKnob, dispenser.Dispense, dispenser.EjectCoin,
	} {
		out := d.Apply(sym)
		line := fmt.Sprintf("%-10s -> %s", sym, out)
		if out.Reason != "" {
			line += ": " + out.Reason
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "# %d candy left, state %s\n", d.Count(), d.State())
	return nil
}
