package events_test

import (
	"testing"

	"github.com/m-peko/tetherion/foundation/events"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Stream(t *testing.T) {
	t.Log("Given the need to fan viewer messages out to subscribers.")
	{
		evts := events.New()

		a := evts.Subscribe("a")
		b := evts.Subscribe("b")
		if evts.Subscribe("a") != a || evts.Count() != 2 {
			t.Fatalf("\t%s\tShould return the same channel for the same id.", failed)
		}
		t.Logf("\t%s\tShould return the same channel for the same id.", success)

		if !evts.Publish("viewer: block: {}") {
			t.Fatalf("\t%s\tShould take a viewer message.", failed)
		}
		if <-a != "viewer: block: {}" || <-b != "viewer: block: {}" {
			t.Fatalf("\t%s\tShould deliver the message to every subscriber.", failed)
		}
		t.Logf("\t%s\tShould deliver the message to every subscriber.", success)

		if evts.Publish("state: acceptBlock: started") {
			t.Fatalf("\t%s\tShould leave other messages to the caller.", failed)
		}
		t.Logf("\t%s\tShould leave other messages to the caller.", success)

		if err := evts.Unsubscribe("a"); err != nil {
			t.Fatalf("\t%s\tShould be able to unsubscribe: %v", failed, err)
		}
		if _, open := <-a; open {
			t.Fatalf("\t%s\tShould close an unsubscribed channel.", failed)
		}
		if err := evts.Unsubscribe("a"); err == nil {
			t.Fatalf("\t%s\tShould not unsubscribe an unknown id.", failed)
		}
		t.Logf("\t%s\tShould close an unsubscribed channel.", success)

		for i := 0; i < 150; i++ {
			evts.Publish("viewer: flood")
		}
		if got := evts.Missed("b"); got != 50 {
			t.Fatalf("\t%s\tShould count the messages a full subscriber missed, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould count the messages a full subscriber missed.", success)

		evts.Shutdown()

		var held int
		for range b {
			held++
		}
		if held != 100 || evts.Count() != 0 {
			t.Fatalf("\t%s\tShould close every channel on shutdown, held %d.", failed, held)
		}
		t.Logf("\t%s\tShould close every channel on shutdown.", success)

		if _, open := <-evts.Subscribe("late"); open || evts.Count() != 0 {
			t.Fatalf("\t%s\tShould hand a closed channel to late subscribers.", failed)
		}
		t.Logf("\t%s\tShould hand a closed channel to late subscribers.", success)
	}
}
