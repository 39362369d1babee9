package main

// indexHTML is the board page. The board itself is drawn from the "board"
// frames of the websocket session; drag gestures are reported back as
// dragStart, dragOver and dragEnd messages.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <script src="https://cdn.jsdelivr.net/npm/sortablejs@1.15.2/Sortable.min.js"></script>
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background: #f0f2f5; margin: 0; display: flex; flex-direction: column; height: 100vh; color: #1c1e21; }
        header { background: #2c3e50; color: white; padding: 0.8rem 2rem; display: flex; gap: 16px; align-items: center; }
        header h1 { margin: 0; font-size: 1.5rem; }
        #status { margin-left: auto; font-size: 0.8rem; color: #bdc3c7; }
        .main { display: flex; flex: 1; overflow: hidden; padding: 20px; gap: 20px; }
        .board { display: flex; gap: 20px; flex: 1; overflow-x: auto; align-items: flex-start; }
        .list { background: #ebedf0; border-radius: 10px; width: 300px; min-width: 300px; display: flex; flex-direction: column; max-height: 100%; }
        .list h3 { padding: 12px; margin: 0; text-align: center; color: white; background: #3498db; border-radius: 10px 10px 0 0; font-size: 1rem; text-transform: uppercase; }
        .cards { padding: 12px; flex: 1; overflow-y: auto; min-height: 100px; }
        .card { background: white; border-radius: 8px; padding: 12px; margin-bottom: 12px; cursor: grab; border: 1px solid #e1e4e8; display: flex; justify-content: space-between; }
        .card.pending { opacity: 0.6; border-style: dashed; }
        .card.failed { border-color: #e74c3c; }
        .delete-btn { background: none; border: none; color: #bdc3c7; cursor: pointer; font-size: 1.2rem; }
        .add { display: flex; gap: 6px; padding: 0 12px 12px; }
        .add input { flex: 1; padding: 6px; border: 1px solid #ddd; border-radius: 6px; }
        .sidebar { background: white; border-radius: 10px; width: 280px; padding: 12px; overflow-y: auto; }
        .entry { background: #f8f9fa; border-left: 4px solid #7f8c8d; border-radius: 6px; padding: 8px; margin-bottom: 8px; font-size: 0.8rem; }
        #toast { position: fixed; bottom: 20px; right: 20px; background: #e74c3c; color: white; padding: 10px 16px; border-radius: 6px; display: none; }
    </style>
</head>
<body>
    <header>
        <h1>{{.Title}}</h1>
        <span id="status">connecting</span>
    </header>
    <div class="main">
        <div class="board" id="board"></div>
        <div class="sidebar"><h3>Activity</h3><div id="history"></div></div>
    </div>
    <div id="toast"></div>

    <script>
        const boardID = {{.BoardID}};
        let socket, state = 'idle', active = '';

        function send(msg) {
            if (socket && socket.readyState === WebSocket.OPEN) socket.send(JSON.stringify(msg));
        }

        function connect() {
            const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
            socket = new WebSocket(protocol + '//' + window.location.host + '/ws?board=' + encodeURIComponent(boardID));
            socket.onmessage = (e) => {
                const msg = JSON.parse(e.data);
                if (msg.type === 'board') render(msg);
                if (msg.type === 'error') toast(msg.error);
            };
            socket.onclose = () => { document.getElementById('status').innerText = 'offline'; setTimeout(connect, 1000); };
        }
        setInterval(() => send({type: 'ping'}), 10000);

        function render(msg) {
            state = msg.state || 'idle';
            active = msg.activeCardId || '';
            document.getElementById('status').innerText = state;
            // Sortable owns the DOM during a gesture.
            if (state === 'dragging') return;
            const board = document.getElementById('board');
            board.innerHTML = '';
            (msg.lists || []).forEach(list => {
                const el = document.createElement('div');
                el.className = 'list';
                el.innerHTML = '<h3></h3><div class="cards"></div><form class="add"><input placeholder="Add a card"><button>+</button></form>';
                el.querySelector('h3').innerText = list.title;
                const cards = el.querySelector('.cards');
                cards.dataset.listId = list.id;
                (list.cards || []).forEach(card => {
                    const c = document.createElement('div');
                    c.className = 'card' + (card.id === active && state === 'confirming' ? ' pending' : '');
                    c.dataset.id = card.id;
                    c.innerHTML = '<span></span><button class="delete-btn">&times;</button>';
                    c.querySelector('span').innerText = card.title;
                    c.querySelector('button').onclick = () => send({type: 'deleteCard', listId: list.id, cardId: card.id});
                    cards.appendChild(c);
                });
                el.querySelector('form').onsubmit = (e) => {
                    e.preventDefault();
                    const input = e.target.querySelector('input');
                    if (input.value) send({type: 'addCard', listId: list.id, title: input.value});
                    input.value = '';
                };
                board.appendChild(el);
                initSortable(cards);
            });
            fetch('/api/history?board=' + encodeURIComponent(boardID)).then(r => r.json()).then(entries => {
                const h = document.getElementById('history');
                h.innerHTML = '';
                (entries || []).forEach(text => {
                    const d = document.createElement('div');
                    d.className = 'entry';
                    d.innerText = text;
                    h.appendChild(d);
                });
            });
        }

        function initSortable(el) {
            new Sortable(el, {
                group: 'cards', animation: 150,
                onStart: e => send({type: 'dragStart', cardId: e.item.dataset.id}),
                onMove: e => {
                    const over = e.related && e.related.dataset.id;
                    send({type: 'dragOver', listId: e.to.dataset.listId, cardId: over || ''});
                },
                onEnd: e => {
                    if (!e.to || !e.to.dataset.listId) {
                        send({type: 'dragEnd'});
                        return;
                    }
                    // Dropping on a card below the origin lands after it,
                    // anywhere else before it.
                    const down = e.from === e.to && e.newIndex > e.oldIndex;
                    const near = down ? e.item.previousElementSibling : e.item.nextElementSibling;
                    send({type: 'dragEnd', listId: e.to.dataset.listId, cardId: near ? near.dataset.id : ''});
                }
            });
        }

        function toast(text) {
            const t = document.getElementById('toast');
            t.innerText = 'Move failed: ' + text;
            t.style.display = 'block';
            setTimeout(() => t.style.display = 'none', 4000);
        }

        connect();
    </script>
</body>
</html>
`
