package browser

// queryJS resolves role, text, placeholder and label selectors in the page.
// It searches below `this` when bound to an element, else the document.
// String matching is case-insensitive substring unless exact is set.
const queryJS = `(kind, value, name, exact, regex) => {
	const root = (this && this.querySelectorAll) ? this : document;
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
	const matches = (text, want) => {
		text = norm(text);
		if (regex) return new RegExp(want, 'i').test(text);
		if (exact) return text === want;
		return text.toLowerCase().includes(String(want).toLowerCase());
	};

	const implicit = {
		button: 'button, input[type=submit], input[type=button], input[type=reset], [role=button]',
		link: 'a[href], [role=link]',
		textbox: 'input:not([type]), input[type=text], input[type=email], input[type=tel], input[type=url], input[type=search], input[type=password], textarea, [role=textbox]',
		combobox: 'select:not([multiple]), [role=combobox]',
		listbox: 'select[multiple], [role=listbox]',
		checkbox: 'input[type=checkbox], [role=checkbox]',
		radio: 'input[type=radio], [role=radio]',
		spinbutton: 'input[type=number], [role=spinbutton]',
		heading: 'h1, h2, h3, h4, h5, h6, [role=heading]',
		option: 'option, [role=option]',
		menuitem: '[role=menuitem]',
	};

	const labelText = (el) => {
		const parts = [];
		if (el.id) {
			document.querySelectorAll('label[for="' + CSS.escape(el.id) + '"]').forEach(l => parts.push(l.textContent));
		}
		const wrapping = el.closest('label');
		if (wrapping) parts.push(wrapping.textContent);
		return parts.join(' ');
	};

	const accessibleName = (el) => {
		const aria = el.getAttribute('aria-label');
		if (aria) return aria;
		const by = el.getAttribute('aria-labelledby');
		if (by) {
			return by.split(/\s+/).map(id => {
				const ref = document.getElementById(id);
				return ref ? ref.textContent : '';
			}).join(' ');
		}
		if (el.matches('input, select, textarea')) {
			const label = labelText(el);
			if (norm(label)) return label;
			if (el.matches('input[type=submit], input[type=button], input[type=reset]')) return el.value;
			return el.getAttribute('placeholder') || el.getAttribute('title') || '';
		}
		return el.textContent || el.getAttribute('title') || '';
	};

	const all = (css) => Array.from(root.querySelectorAll(css));

	switch (kind) {
	case 'role': {
		const css = implicit[value] || '[role="' + value + '"]';
		return all(css).filter(el => !name || matches(accessibleName(el), name));
	}
	case 'text': {
		const hits = all('body *').filter(el =>
			!['SCRIPT', 'STYLE', 'NOSCRIPT'].includes(el.tagName) && matches(el.textContent, value));
		return hits.filter(el => !hits.some(other => other !== el && el.contains(other)));
	}
	case 'placeholder':
		return all('[placeholder]').filter(el => matches(el.getAttribute('placeholder'), value));
	case 'label': {
		const out = [];
		all('label').filter(l => matches(l.textContent, value)).forEach(l => {
			const control = l.control || l.querySelector('input, select, textarea');
			if (control && !out.includes(control)) out.push(control);
		});
		all('[aria-label]').filter(el => matches(el.getAttribute('aria-label'), value)).forEach(el => {
			if (!out.includes(el)) out.push(el);
		});
		return out;
	}
	}
	return [];
}`
