package retention

import (
	"context"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/hkdb/aerion/internal/msgdb"
)

// ImapMoveService is the collaborator an offline move's playback delegates
// the actual network call to. Dialing, authenticating and issuing IMAP
// commands belongs to the protocol layer (§ Non-goals: wire protocols);
// this package only decides what to call and when.
type ImapMoveService interface {
	CopyMessages(ctx context.Context, uids imap.UIDSet, destMailbox string) error
}

// CoalesceMoves is the IMAP move coalescer named in §1: it groups every
// queued offline move operation by destination mailbox and issues one
// CopyMessages per destination, instead of one round trip per queued
// operation, then dequeues the operations it successfully replayed.
// StoreToken holds the message's IMAP UID as a decimal string (§3.1); a
// header whose StoreToken cannot be parsed as a UID is skipped rather than
// aborting the whole pass.
func CoalesceMoves(ctx context.Context, db *msgdb.DB, svc ImapMoveService) error {
	ops, err := db.OfflineOperations()
	if err != nil {
		return err
	}

	byDestination := make(map[string]imap.UIDSet)
	var replayed []string

	for _, op := range ops {
		if op.Kind != msgdb.OfflineOpMove {
			continue
		}

		set := byDestination[op.Destination]
		for _, key := range op.Keys {
			h, err := db.GetMsgHdrForKey(key)
			if err != nil || h == nil {
				continue
			}
			uid, err := strconv.ParseUint(h.StoreToken, 10, 32)
			if err != nil {
				continue
			}
			set.AddNum(imap.UID(uid))
		}
		byDestination[op.Destination] = set
		replayed = append(replayed, op.ID)
	}

	for dest, set := range byDestination {
		if err := svc.CopyMessages(ctx, set, dest); err != nil {
			return err
		}
	}

	for _, id := range replayed {
		if err := db.DequeueOfflineOperation(id); err != nil {
			return err
		}
	}
	return nil
}
