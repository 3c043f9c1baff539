package command

import (
	"context"

	"github.com/listenupapp/addressbook-sync/internal/domain"
	"github.com/listenupapp/addressbook-sync/internal/model"
)

// kindOps is the per-kind behaviour of a command. simulate, revert and
// reconcile run with the command's mutex held.
type kindOps struct {
	pending   model.Change
	simulate  func(c *Command)
	revert    func(c *Command)
	request   func(ctx context.Context, c *Command) (*domain.Person, error)
	reconcile func(c *Command, remote *domain.Person)
	onEdit    func(c *Command, input domain.Person) (*Command, error)
	onDelete  func(c *Command) (*Command, error)
}

var kindTable map[Kind]kindOps

// The table is filled in init because its entries call back into the
// command lifecycle, which reads the table.
func init() {
	kindTable = map[Kind]kindOps{
		KindEdit: {
			pending: model.ChangeEditing,
			simulate: func(c *Command) {
				c.after = c.before.Clone()
				c.after.ApplyEdit(c.input)
				c.mgr.local.Put(c.after)
			},
			revert: func(c *Command) {
				c.mgr.local.Put(c.before)
			},
			request: func(ctx context.Context, c *Command) (*domain.Person, error) {
				updated, err := c.mgr.remote.UpdatePerson(ctx, c.PersonID, c.After())
				if err != nil {
					return nil, err
				}
				if updated == nil {
					return nil, errNoResult
				}
				return updated, nil
			},
			reconcile: func(c *Command, remote *domain.Person) {
				c.after = remote.Clone()
				c.mgr.local.Put(c.after)
				c.mgr.local.ClearPending(c.PersonID)
			},
			onEdit: func(c *Command, input domain.Person) (*Command, error) {
				return c.supersede(KindEdit, input)
			},
			onDelete: func(c *Command) (*Command, error) {
				return c.supersede(KindDelete, domain.Person{})
			},
		},
		KindDelete: {
			pending:  model.ChangeDeleting,
			simulate: func(*Command) {},
			revert:   func(*Command) {},
			request: func(ctx context.Context, c *Command) (*domain.Person, error) {
				return nil, c.mgr.remote.DeletePerson(ctx, c.PersonID)
			},
			reconcile: func(c *Command, _ *domain.Person) {
				c.mgr.local.Remove(c.PersonID)
			},
			// A pending delete already carries the final intent.
			onEdit: func(c *Command, _ domain.Person) (*Command, error) {
				return c, nil
			},
			onDelete: func(c *Command) (*Command, error) {
				return c, nil
			},
		},
	}
}

func opsFor(k Kind) kindOps {
	return kindTable[k]
}
