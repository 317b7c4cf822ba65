package core

import "pkt.systems/tabkeep/schema"

// OrderController decides where new tabs go and whether they take focus.
type OrderController struct {
	selector ModelDelegate
}

// NewOrderController constructs an OrderController for selector.
func NewOrderController(selector ModelDelegate) *OrderController {
	return &OrderController{selector: selector}
}

// DetermineInsertionIndex returns the index for tab. Link clicks are placed
// relative to the active tab; other launches keep position.
func (c *OrderController) DetermineInsertionIndex(launch schema.LaunchType, position int, tab *Tab) int {
	if launch.IsLinkClick() {
		position = c.determineLinkInsertionIndex(launch, tab)
	}
	if c.WillOpenInForeground(launch, tab.IsIncognito()) {
		c.forgetAllOpeners()
	}
	return position
}

func (c *OrderController) determineLinkInsertionIndex(launch schema.LaunchType, tab *Tab) int {
	current := c.selector.CurrentModel()
	currentTab := CurrentTab(current)
	if currentTab == nil {
		return 0
	}
	currentIndex := TabIndexByID(current, currentTab.ID())
	if current.IsIncognito() != tab.IsIncognito() {
		return c.selector.Model(tab.IsIncognito()).Count()
	}
	if c.WillOpenInForeground(launch, tab.IsIncognito()) {
		return currentIndex + 1
	}
	if index := c.indexOfLastTabOpenedBy(currentTab.ID(), currentIndex); index != schema.InvalidIndex {
		return index + 1
	}
	return currentIndex + 1
}

// indexOfLastTabOpenedBy scans backward from the end of the current model down
// to startIndex for the last tab still grouped with opener.
func (c *OrderController) indexOfLastTabOpenedBy(opener schema.TabID, startIndex int) int {
	current := c.selector.CurrentModel()
	for i := current.Count() - 1; i >= startIndex; i-- {
		tab := current.TabAt(i)
		if tab.ParentID() == opener && tab.IsGroupedWithParent() {
			return i
		}
	}
	return schema.InvalidIndex
}

func (c *OrderController) forgetAllOpeners() {
	current := c.selector.CurrentModel()
	for i := 0; i < current.Count(); i++ {
		current.TabAt(i).SetGroupedWithParent(false)
	}
}

// WillOpenInForeground reports whether a tab launched this way takes focus.
// Restored tabs never do; background long-presses only do when they cross into incognito.
func (c *OrderController) WillOpenInForeground(launch schema.LaunchType, incognito bool) bool {
	switch launch {
	case schema.LaunchFromRestore:
		return false
	case schema.LaunchFromLongpressBackground:
		return !c.selector.IsIncognitoSelected() && incognito
	default:
		return true
	}
}
