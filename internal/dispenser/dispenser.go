// Package dispenser is a coin-operated candy machine driven by an fsm.Machine.
package dispenser

import (
	"fmt"
	"io"

	"github.com/EchoPBX/echofsm/internal/fsm"
	"github.com/EchoPBX/echofsm/internal/metrics"
	"github.com/EchoPBX/echofsm/pkg/sdk"
	"go.uber.org/zap"
)

const (
	NoCoin   fsm.StateID = "NoCoin"
	HasCoin  fsm.StateID = "HasCoin"
	HasCandy fsm.StateID = "HasCandy"
	NoCandy  fsm.StateID = "NoCandy"
)

const (
	InsertCoin fsm.Symbol = "InsertCoin"
	EjectCoin  fsm.Symbol = "EjectCoin"
	TurnKnob   fsm.Symbol = "TurnKnob"
	Dispense   fsm.Symbol = "Dispense"
)

// Name is the machine name and the source of the events it publishes.
const Name = "dispenser"

// Definition returns the dispenser's transition table bound to stock. Every
// applied transition reports what the machine does through say.
func Definition(stock *Stock, say func(msg string)) *fsm.Definition {
	if say == nil {
		say = func(string) {}
	}
	inStock := func(*fsm.Context) bool { return stock.Count() > 0 }
	tell := func(msgs ...func() string) fsm.Action {
		return func(*fsm.Context) error {
			for _, m := range msgs {
				say(m())
			}
			return nil
		}
	}
	text := func(s string) func() string { return func() string { return s } }
	checking := text("Checking whether the machine is left with candies")
	returned := text("The machine returns you back your coin")

	return fsm.NewDefinition().
		States(NoCoin, HasCoin, HasCandy, NoCandy).
		Symbols(InsertCoin, EjectCoin, TurnKnob, Dispense).
		Transition(NoCoin, InsertCoin, HasCoin, fsm.WithAction(tell(text("You inserted a coin")))).
		Transition(HasCoin, EjectCoin, NoCoin, fsm.WithAction(tell(returned))).
		// the candy is reserved here and drops out on Dispense
		Transition(HasCoin, TurnKnob, HasCandy,
			fsm.WithGuard(inStock),
			fsm.WithAction(func(*fsm.Context) error {
				say(checking())
				return stock.Take()
			})).
		Transition(HasCoin, TurnKnob, NoCandy, fsm.WithAction(tell(checking))).
		Transition(HasCandy, Dispense, NoCoin, fsm.WithAction(tell(
			text("One candy drop out"),
			func() string { return fmt.Sprintf("Candies left: %d", stock.Count()) },
		))).
		Transition(NoCandy, Dispense, HasCoin, fsm.WithAction(tell(text("No more candy left, sorry")))).
		Transition(NoCandy, EjectCoin, NoCoin, fsm.WithAction(tell(returned))).
		Reject(NoCoin, Dispense, "Nothing happens").
		Reject(NoCoin, EjectCoin, "There is no coin for you to eject").
		Reject(NoCoin, TurnKnob, "Please don't try to cheat the system").
		Reject(HasCoin, InsertCoin, "You have already got a coin inside").
		Reject(HasCoin, Dispense, "Nothing happens").
		Reject(HasCandy, InsertCoin, "Eating your coin, please wait").
		Reject(HasCandy, EjectCoin, "Sorry too late, eating your coin now").
		Reject(HasCandy, TurnKnob, "You can't dispense twice!").
		Reject(NoCandy, InsertCoin, "Your coin is still inside").
		Reject(NoCandy, TurnKnob, "You can't turn the knob yet!").
		Initial(NoCoin)
}

type Dispenser struct {
	m     *fsm.Machine
	stock *Stock
}

type config struct {
	log     *zap.Logger
	out     io.Writer
	bus     sdk.Bus
	metrics *metrics.Metrics
}

type Option func(*config)

func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithOutput prints the machine's messages to w, one per line, besides
// logging them.
func WithOutput(w io.Writer) Option {
	return func(c *config) { c.out = w }
}

// WithBus publishes every outcome on bus with source "dispenser".
func WithBus(bus sdk.Bus) Option {
	return func(c *config) { c.bus = bus }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// New returns a dispenser in NoCoin holding candies candies.
func New(candies int, opts ...Option) (*Dispenser, error) {
	cfg := config{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	stock := NewStock(candies)
	log := cfg.log.With(zap.String("component", Name))
	say := func(msg string) {
		log.Info(msg)
		if cfg.out != nil {
			fmt.Fprintln(cfg.out, msg)
		}
	}
	mopts := []fsm.MachineOption{
		fsm.WithName(Name),
		fsm.WithLogger(log),
		fsm.WithMetrics(cfg.metrics),
	}
	if cfg.bus != nil {
		mopts = append(mopts, fsm.WithPublisher(cfg.bus))
	}
	m, err := Definition(stock, say).Build(mopts...)
	if err != nil {
		return nil, err
	}
	return &Dispenser{m: m, stock: stock}, nil
}

func (d *Dispenser) Apply(sym fsm.Symbol) fsm.Outcome { return d.m.Apply(sym) }

func (d *Dispenser) InsertCoin() fsm.Outcome { return d.m.Apply(InsertCoin) }
func (d *Dispenser) EjectCoin() fsm.Outcome  { return d.m.Apply(EjectCoin) }
func (d *Dispenser) TurnKnob() fsm.Outcome   { return d.m.Apply(TurnKnob) }
func (d *Dispenser) Dispense() fsm.Outcome   { return d.m.Apply(Dispense) }

func (d *Dispenser) State() fsm.StateID { return d.m.Current() }
func (d *Dispenser) Count() int         { return d.stock.Count() }
func (d *Dispenser) Refill(n int) int   { return d.stock.Refill(n) }

// Symbols lists the inputs the dispenser understands.
func (d *Dispenser) Symbols() []fsm.Symbol { return d.m.Symbols() }
