package matchmaking

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"arenarank/internal/model"
)

// NATS request/reply subjects for the matchmaking surface. Game backends
// are already on the bus for settlement jobs; matchmaking rides the same
// connection instead of growing an HTTP layer.
const (
	SubjectRefresh  = "arena.match.refresh"
	SubjectOpen     = "arena.match.open"
	SubjectPurchase = "arena.ticket.purchase"
)

type refreshRequest struct {
	AvatarAddress string `json:"avatarAddress"`
	SeasonID      int    `json:"seasonId"`
	RoundID       int    `json:"roundId"`
}

type opponentReply struct {
	ID              int64  `json:"id"`
	OpponentAddress string `json:"opponentAddress"`
	GroupID         int    `json:"groupId"`
}

type openRequest struct {
	AvatarAddress string `json:"avatarAddress"`
	SeasonID      int    `json:"seasonId"`
	RoundID       int    `json:"roundId"`
	OpponentID    int64  `json:"opponentId"`
}

type openReply struct {
	BattleID int64  `json:"battleId"`
	Token    string `json:"token"`
}

type purchaseRequest struct {
	AvatarAddress string `json:"avatarAddress"`
	SeasonID      int    `json:"seasonId"`
	RoundID       int    `json:"roundId"`
	TxID          string `json:"txId"`
	TicketCount   int    `json:"ticketCount"`
}

type purchaseReply struct {
	PurchaseLogID int64 `json:"purchaseLogId"`
}

type errorReply struct {
	Error string `json:"error"`
}

// ServeNATS subscribes the service's request/reply endpoints on the given
// connection. Subscriptions are unsubscribed when ctx ends.
func (s *Service) ServeNATS(ctx context.Context, nc *nats.Conn) error {
	refreshSub, err := nc.Subscribe(SubjectRefresh, func(msg *nats.Msg) {
		var req refreshRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.replyError(msg, "malformed request")
			return
		}
		addr, err := model.NewAddress(req.AvatarAddress)
		if err != nil {
			s.replyError(msg, err.Error())
			return
		}
		stored, err := s.RefreshOpponents(ctx, addr, req.SeasonID, req.RoundID)
		if err != nil {
			s.replyError(msg, err.Error())
			return
		}
		out := make([]opponentReply, 0, len(stored))
		for _, o := range stored {
			out = append(out, opponentReply{
				ID:              o.ID,
				OpponentAddress: o.OpponentAddress.String(),
				GroupID:         o.GroupID,
			})
		}
		s.reply(msg, out)
	})
	if err != nil {
		return err
	}

	openSub, err := nc.Subscribe(SubjectOpen, func(msg *nats.Msg) {
		var req openRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.replyError(msg, "malformed request")
			return
		}
		addr, err := model.NewAddress(req.AvatarAddress)
		if err != nil {
			s.replyError(msg, err.Error())
			return
		}
		battle, signed, err := s.OpenBattle(ctx, addr, req.SeasonID, req.RoundID, req.OpponentID)
		if err != nil {
			s.replyError(msg, err.Error())
			return
		}
		s.reply(msg, openReply{BattleID: battle.ID, Token: signed})
	})
	if err != nil {
		refreshSub.Unsubscribe()
		return err
	}

	purchaseSub, err := nc.Subscribe(SubjectPurchase, func(msg *nats.Msg) {
		var req purchaseRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.replyError(msg, "malformed request")
			return
		}
		addr, err := model.NewAddress(req.AvatarAddress)
		if err != nil {
			s.replyError(msg, err.Error())
			return
		}
		id, err := s.PurchaseTickets(ctx, addr, req.SeasonID, req.RoundID, model.TxID(req.TxID), req.TicketCount)
		if err != nil {
			s.replyError(msg, err.Error())
			return
		}
		s.reply(msg, purchaseReply{PurchaseLogID: id})
	})
	if err != nil {
		refreshSub.Unsubscribe()
		openSub.Unsubscribe()
		return err
	}

	go func() {
		<-ctx.Done()
		refreshSub.Unsubscribe()
		openSub.Unsubscribe()
		purchaseSub.Unsubscribe()
	}()
	return nil
}

func (s *Service) reply(msg *nats.Msg, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn().Err(err).Msg("respond failed")
	}
}

func (s *Service) replyError(msg *nats.Msg, text string) {
	data, _ := json.Marshal(errorReply{Error: text})
	if err := msg.Respond(data); err != nil {
		s.log.Warn().Err(err).Msg("respond failed")
	}
}
